package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// fakeDetector serves canned frames and can be told to time out a number of
// times before succeeding
type fakeDetector struct {
	timeouts  int
	starts    int
	stops     int
	fatalErr  error
	busyPolls int
	pollsLeft int
	frame     []byte
}

func (d *fakeDetector) StartPreview() error {
	d.starts++
	if d.timeouts > 0 {
		d.timeouts--
		return fmt.Errorf("trigger: %w", os.ErrDeadlineExceeded)
	}
	d.pollsLeft = d.busyPolls
	return nil
}

func (d *fakeDetector) Stop() error {
	d.stops++
	return nil
}

func (d *fakeDetector) Idle() (bool, error) {
	if d.pollsLeft > 0 {
		d.pollsLeft--
		return false, nil
	}
	return true, nil
}

func (d *fakeDetector) LastImage() ([]byte, error) {
	if d.fatalErr != nil {
		return nil, d.fatalErr
	}
	if d.frame != nil {
		return d.frame, nil
	}
	return []byte("II*\x00"), nil
}

type fakeShutter struct {
	state   bool
	history []bool
}

func (f *fakeShutter) Enable(on bool) error {
	f.state = on
	f.history = append(f.history, on)
	return nil
}

// fakeDelayLine maps 1 ps to 1 mm and records every command it receives
type fakeDelayLine struct {
	ops     []string
	targets []float64
}

func (f *fakeDelayLine) DelayToDistance(ps float64) float64 { return ps }
func (f *fakeDelayLine) DistanceToDelay(mm float64) float64 { return mm }

func (f *fakeDelayLine) MoveCompensation(mm float64) error {
	f.ops = append(f.ops, fmt.Sprintf("comp(%.3f)", mm))
	return nil
}

func (f *fakeDelayLine) MoveToTime(ps, origin float64) error {
	f.ops = append(f.ops, fmt.Sprintf("move(%.3f,%.3f)", ps, origin))
	f.targets = append(f.targets, ps)
	return nil
}

func (f *fakeDelayLine) WaitMotionComplete() error {
	f.ops = append(f.ops, "wait")
	return nil
}

// testSequencer builds a sequencer over fakes with all the pauses collapsed
// and a deterministic clock that ticks one second per call
func testSequencer(t *testing.T, det Detector, nScans int, delays []float64) (*Sequencer, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(det, &fakeShutter{}, &fakeShutter{}, &fakeDelayLine{}, dir, nScans, delays)
	s.Settle = 0
	s.PollInterval = time.Microsecond
	s.Retry.Interval = time.Microsecond
	var tick int64
	s.now = func() time.Time {
		tick++
		return time.Unix(1700000000+tick, 0)
	}
	return s, dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readLogMessages(t *testing.T, dir string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, LogFilename))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	msgs := make([]string, 0, len(lines))
	for _, line := range lines {
		ts, msg, found := strings.Cut(line, " | ")
		if !found {
			t.Fatalf("malformed log line %q", line)
		}
		if _, err := time.Parse(TimestampFormat, ts); err != nil {
			t.Fatalf("bad timestamp in log line %q: %v", line, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestRunSingleScan(t *testing.T) {
	det := &fakeDetector{busyPolls: 2}
	s, dir := testSequencer(t, det, 1, []float64{-1, 0, 1})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if n := len(listDir(t, filepath.Join(dir, DirDark))); n != 1 {
		t.Errorf("expected 1 dark image, got %d", n)
	}
	if n := len(listDir(t, filepath.Join(dir, DirLaserBackground))); n != 1 {
		t.Errorf("expected 1 laser background image, got %d", n)
	}
	if n := len(listDir(t, filepath.Join(dir, DirPumpOff))); n != 1 {
		t.Errorf("expected 1 pump off image, got %d", n)
	}

	got := listDir(t, filepath.Join(dir, "scan_0001"))
	want := []string{"pumpon_+000.000ps.tif", "pumpon_+001.000ps.tif", "pumpon_-001.000ps.tif"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("scan_0001 contents %v, expected %v", got, want)
	}

	msgs := readLogMessages(t, dir)
	if len(msgs) != 7 {
		t.Fatalf("expected 7 log lines, got %d: %v", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "starting experiment ") || !strings.HasSuffix(msgs[0], " with 1 scans at 3 delays") {
		t.Errorf("unexpected header line %q", msgs[0])
	}
	if msgs[1] != "laser background image acquired" {
		t.Errorf("unexpected line %q", msgs[1])
	}
	if msgs[2] != "pump off image acquired" {
		t.Errorf("unexpected line %q", msgs[2])
	}
	for _, m := range msgs[3:6] {
		if !strings.HasPrefix(m, "pump on image acquired at scan 1 and time-delay ") {
			t.Errorf("unexpected line %q", m)
		}
	}
	if msgs[6] != "EXPERIMENT COMPLETE" {
		t.Errorf("expected final line EXPERIMENT COMPLETE, got %q", msgs[6])
	}
}

func TestRunEndsWithShuttersClosed(t *testing.T) {
	s, _ := testSequencer(t, &fakeDetector{}, 1, []float64{0})
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	pump := s.Pump.(*fakeShutter)
	probe := s.Probe.(*fakeShutter)
	if pump.state || probe.state {
		t.Errorf("shutters left open: pump=%v probe=%v", pump.state, probe.state)
	}
}

func TestRunShufflesEachScanIndependently(t *testing.T) {
	// delays all map inside the primary stage's reach so the recorded move
	// targets equal the delays themselves
	delays := make([]float64, 12)
	for i := range delays {
		delays[i] = float64(i) - 11
	}
	s, dir := testSequencer(t, &fakeDetector{}, 3, delays)
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	dl := s.Stages.(*fakeDelayLine)
	if len(dl.targets) != 36 {
		t.Fatalf("expected 36 stage moves, got %d", len(dl.targets))
	}
	scans := [][]float64{dl.targets[0:12], dl.targets[12:24], dl.targets[24:36]}
	for i, scan := range scans {
		sorted := append([]float64(nil), scan...)
		sort.Float64s(sorted)
		if fmt.Sprint(sorted) != fmt.Sprint(delays) {
			t.Errorf("scan %d visited %v, expected a permutation of %v", i+1, scan, delays)
		}
	}
	if fmt.Sprint(scans[0]) == fmt.Sprint(scans[1]) && fmt.Sprint(scans[1]) == fmt.Sprint(scans[2]) {
		t.Error("all three scans visited delays in the same order")
	}

	// identical filename sets regardless of visit order
	first := listDir(t, filepath.Join(dir, "scan_0001"))
	for _, scandir := range []string{"scan_0002", "scan_0003"} {
		if got := listDir(t, filepath.Join(dir, scandir)); fmt.Sprint(got) != fmt.Sprint(first) {
			t.Errorf("%s contents %v differ from scan_0001 %v", scandir, got, first)
		}
	}
}

func TestRunToleratesExistingFixedDirs(t *testing.T) {
	s, dir := testSequencer(t, &fakeDetector{}, 1, []float64{0})
	for _, d := range []string{DirDark, DirLaserBackground, DirPumpOff} {
		if err := os.Mkdir(filepath.Join(dir, d), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunExistingScanDirIsFatal(t *testing.T) {
	s, dir := testSequencer(t, &fakeDetector{}, 1, []float64{0})
	if err := os.Mkdir(filepath.Join(dir, "scan_0001"), 0755); err != nil {
		t.Fatal(err)
	}
	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error for a pre-existing scan directory")
	}
	msgs := readLogMessages(t, dir)
	if last := msgs[len(msgs)-1]; !strings.Contains(last, "scan_0001") {
		t.Errorf("fatal error missing from log, last line %q", last)
	}
}

func TestRunNoDelays(t *testing.T) {
	s, _ := testSequencer(t, &fakeDetector{}, 1, nil)
	if err := s.Run(context.Background()); err != ErrNoDelays {
		t.Errorf("expected ErrNoDelays, got %v", err)
	}
}
