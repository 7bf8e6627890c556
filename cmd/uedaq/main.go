package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uedlab/gued/cheetah"
	"github.com/uedlab/gued/experiment"
	"github.com/uedlab/gued/newport"
	"github.com/uedlab/gued/thorlabs"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/basicflag"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "uedaq.yml"
	k              = koanf.New(".")
)

type config struct {
	CheetahIP        string  `yaml:"CheetahIP" koanf:"cheetah_ip"`
	CheetahPort      int     `yaml:"CheetahPort" koanf:"cheetah_port"`
	PumpShutterPort  string  `yaml:"PumpShutterPort" koanf:"pump_shutter_port"`
	ProbeShutterPort string  `yaml:"ProbeShutterPort" koanf:"probe_shutter_port"`
	DelayStageIP     string  `yaml:"DelayStageIP" koanf:"delay_stage_ip"`
	DelayGroup       string  `yaml:"DelayGroup" koanf:"delay_group"`
	CompGroup        string  `yaml:"CompGroup" koanf:"comp_group"`
	SaveDir          string  `yaml:"SaveDir" koanf:"savedir"`
	NScans           int     `yaml:"NScans" koanf:"n_scans"`
	Delays           string  `yaml:"Delays" koanf:"delays"`
	Exposure         float64 `yaml:"Exposure" koanf:"exposure"`
}

func setupconfig(args []string) {
	k.Load(structs.Provider(config{
		CheetahIP:        "localhost",
		CheetahPort:      8080,
		PumpShutterPort:  "COM27",
		ProbeShutterPort: "COM17",
		DelayStageIP:     "192.168.254.254",
		DelayGroup:       "GROUP1",
		CompGroup:        "GROUP2",
		NScans:           1,
		Exposure:         10}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	fs := flag.NewFlagSet("uedaq", flag.ExitOnError)
	fs.String("savedir", k.String("savedir"), "root directory for acquired images and the experiment log")
	fs.Int("n_scans", k.Int("n_scans"), "number of scans over the delay set")
	fs.String("delays", k.String("delays"), "time delays in ps, e.g. '1,2,3' or '0:0.5:10', ranges exclude the stop")
	fs.Float64("exposure", k.Float64("exposure"), "detector exposure time in seconds")
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
	if err := k.Load(basicflag.Provider(fs, "."), nil); err != nil {
		log.Fatalf("error loading flags: %v", err)
	}
}

func root() {
	str := `uedaq runs a continuous pump-probe electron diffraction experiment.
It drives the Cheetah detector over HTTP, the pump and probe SC10 shutters
over serial, and the XPS delay line over TCP, and writes every image and an
append-only experiment log under the save directory.

Usage:
	uedaq <command> [flags]

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `uedaq is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

The command mkconf generates the configuration file with the default values.
The run parameters (savedir, n_scans, delays, exposure) may also be given as
flags after the run command, which override the file.

delays accepts comma-separated values, where each value is either a literal
time delay in ps or a start:step:stop range.  The stop is excluded, so
'0:1:5' scans 0, 1, 2, 3 and 4.  Delays are rounded to 3 decimal places and
the set is scanned in a freshly shuffled order every scan.

An empty savedir means the current working directory.  The scan_NNNN
directories must not already exist; colliding with a previous run's data is
a fatal error.  The dark, laser background and pump off directories are
shared between runs, their filenames carry the acquisition epoch.

The experiment runs until every scan completes or a non-timeout error
occurs.  Detector timeouts are retried forever; kill the process to stop a
stalled run, then consult experiment.log in the save directory.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("uedaq version %v\n", Version)
}

func run() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	if c.SaveDir == "" {
		c.SaveDir, err = os.Getwd()
		if err != nil {
			log.Fatal(err)
		}
	}
	delays, err := experiment.ParseDelays(c.Delays)
	if err != nil {
		log.Fatal(err)
	}
	if c.NScans < 1 {
		log.Fatalf("n_scans must be at least 1, got %d", c.NScans)
	}

	det := cheetah.New(c.CheetahIP, c.CheetahPort)
	// a stale acquisition from a previous session would wedge the first
	// trigger, clear it before configuring
	if err := det.Stop(); err != nil {
		log.Fatalf("error contacting the detector: %v", err)
	}
	err = det.Configure(cheetah.AcquisitionConfig{
		NTriggers:   1,
		TriggerMode: cheetah.TriggerAutoStartTimerStop,
		Exposure:    c.Exposure,
	})
	if err != nil {
		log.Fatalf("error configuring the detector: %v", err)
	}

	pump := thorlabs.NewSC10(c.PumpShutterPort)
	probe := thorlabs.NewSC10(c.ProbeShutterPort)
	for _, sh := range []*thorlabs.SC10{pump, probe} {
		if err := sh.SetOperatingMode(thorlabs.ModeManual); err != nil {
			log.Fatalf("error configuring shutter: %v", err)
		}
	}

	stages := newport.NewController(c.DelayStageIP, c.DelayGroup, c.CompGroup)

	seq := experiment.New(det, pump, probe, stages, c.SaveDir, c.NScans, delays)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " experiment",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	seq.Progress = func(scan, nScans int, msg string) {
		spinner.Message(fmt.Sprintf("scan %d/%d %s", scan, nScans, msg))
	}

	if err := seq.Run(context.Background()); err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = strings.ToLower(args[1])
	setupconfig(args[2:])
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
