package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// fixed output locations under the save directory
const (
	DirDark            = "dark_image"
	DirLaserBackground = "laser_background"
	DirPumpOff         = "pump_off"
	LogFilename        = "experiment.log"
)

// Sequencer owns one run of the continuous experiment.  Construct with New,
// then adjust the exported knobs before calling Run.
type Sequencer struct {
	Detector Detector
	Pump     Shutter
	Probe    Shutter
	Stages   DelayLine

	// Log is the run's append-only logbook
	Log *Logbook

	// SaveDir is the root of the output tree
	SaveDir string

	// NScans is the number of times the full delay set is scanned
	NScans int

	// Delays is the canonical (sorted) delay set in ps; the acquisition
	// order is reshuffled independently for every scan
	Delays []float64

	// Retry governs acquisition fault handling; the default retries forever
	Retry Policy

	// StagePolicy carries the delay-line geometry constants
	StagePolicy StagePolicy

	// Settle and PollInterval tune the acquisition primitive
	Settle       time.Duration
	PollInterval time.Duration

	// Progress, when non-nil, receives UI updates; it must not block
	Progress func(scan, nScans int, msg string)

	// now stands in for time.Now in the epoch-keyed filenames
	now func() time.Time
}

// New returns a sequencer with the default policies, logging to
// experiment.log under savedir
func New(det Detector, pump, probe Shutter, stages DelayLine, savedir string, nScans int, delays []float64) *Sequencer {
	return &Sequencer{
		Detector:     det,
		Pump:         pump,
		Probe:        probe,
		Stages:       stages,
		Log:          NewLogbook(filepath.Join(savedir, LogFilename)),
		SaveDir:      savedir,
		NScans:       nScans,
		Delays:       delays,
		Retry:        DefaultPolicy(),
		StagePolicy:  DefaultStagePolicy(),
		Settle:       defaultSettle,
		PollInterval: defaultPollInterval,
		now:          time.Now,
	}
}

// Run executes the experiment.  Any error other than a retried acquisition
// timeout is fatal; it is recorded in the logbook and returned, and the
// caller decides the process's fate.
func (s *Sequencer) Run(ctx context.Context) error {
	err := s.run(ctx)
	if err != nil {
		s.Log.Append(err.Error())
	}
	return err
}

func (s *Sequencer) run(ctx context.Context) error {
	if len(s.Delays) == 0 {
		return ErrNoDelays
	}
	runID := uuid.NewString()
	err := s.Log.Start(fmt.Sprintf("starting experiment %s with %d scans at %d delays", runID, s.NScans, len(s.Delays)))
	if err != nil {
		return err
	}

	// the fixed directories are created idempotently; a rerun into the same
	// savedir appends alongside earlier baseline images
	for _, dir := range []string{DirLaserBackground, DirPumpOff, DirDark} {
		if err := os.MkdirAll(filepath.Join(s.SaveDir, dir), 0755); err != nil {
			return err
		}
	}

	delays := make([]float64, len(s.Delays))
	copy(delays, s.Delays)

	for scan := 1; scan <= s.NScans; scan++ {
		s.progress(scan, "dark image")
		if err := s.setShutters(false, false); err != nil {
			return err
		}
		if err := s.acquire(ctx, DirDark, s.epochName("dark_epoch")); err != nil {
			return err
		}

		s.progress(scan, "laser background")
		if err := s.setShutters(true, false); err != nil {
			return err
		}
		if err := s.acquire(ctx, DirLaserBackground, s.epochName("laser_bg_epoch")); err != nil {
			return err
		}
		if err := s.Log.Append("laser background image acquired"); err != nil {
			return err
		}

		s.progress(scan, "pump off")
		if err := s.setShutters(false, true); err != nil {
			return err
		}
		if err := s.acquire(ctx, DirPumpOff, s.epochName("pump_off_epoch")); err != nil {
			return err
		}
		if err := s.Log.Append("pump off image acquired"); err != nil {
			return err
		}

		if err := s.Pump.Enable(true); err != nil {
			return err
		}
		scandir := fmt.Sprintf("scan_%04d", scan)
		// scan directories must be fresh; colliding with an existing one
		// means clobbering a previous run's data, which is fatal
		if err := os.Mkdir(filepath.Join(s.SaveDir, scandir), 0755); err != nil {
			return err
		}
		rand.Shuffle(len(delays), func(i, j int) {
			delays[i], delays[j] = delays[j], delays[i]
		})
		for _, delay := range delays {
			s.progress(scan, fmt.Sprintf("delay %+.3f ps", delay))
			if err := s.StagePolicy.MoveToDelay(s.Stages, delay); err != nil {
				return err
			}
			name := fmt.Sprintf("pumpon_%+08.3fps.tif", delay)
			if err := s.acquire(ctx, scandir, name); err != nil {
				return err
			}
			err := s.Log.Append(fmt.Sprintf("pump on image acquired at scan %d and time-delay %.1fps", scan, delay))
			if err != nil {
				return err
			}
		}
	}

	if err := s.setShutters(false, false); err != nil {
		return err
	}
	return s.Log.Append("EXPERIMENT COMPLETE")
}

func (s *Sequencer) setShutters(pump, probe bool) error {
	if err := s.Pump.Enable(pump); err != nil {
		return err
	}
	return s.Probe.Enable(probe)
}

// epochName keys baseline filenames by acquisition time so reruns into the
// same savedir do not collide
func (s *Sequencer) epochName(prefix string) string {
	return fmt.Sprintf("%s_%010ds.tif", prefix, s.now().Unix())
}

func (s *Sequencer) progress(scan int, msg string) {
	if s.Progress != nil {
		s.Progress(scan, s.NScans, msg)
	}
}
