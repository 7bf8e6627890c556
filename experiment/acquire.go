package experiment

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultSettle is the pause between triggering the detector and the
	// first status poll; the firmware needs a beat to leave the idle state
	defaultSettle = 100 * time.Millisecond

	// defaultPollInterval paces the idle polling during an exposure
	defaultPollInterval = 50 * time.Millisecond
)

// acquireOnce runs a single acquisition: trigger, wait for the detector to
// return to idle, fetch the frame, and write it to dir/name under the save
// directory in the detector's native codec.
func (s *Sequencer) acquireOnce(ctx context.Context, dir, name string) error {
	if err := s.Detector.StartPreview(); err != nil {
		return err
	}
	if s.Settle > 0 {
		time.Sleep(s.Settle)
	}
	poll := rate.NewLimiter(rate.Every(s.PollInterval), 1)
	for {
		if err := poll.Wait(ctx); err != nil {
			return err
		}
		idle, err := s.Detector.Idle()
		if err != nil {
			return err
		}
		if idle {
			break
		}
	}
	img, err := s.Detector.LastImage()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.SaveDir, dir, name), img, 0644)
}

// acquire retries acquireOnce under the sequencer's retry policy.  A timeout
// stops the detector, lands in the logbook, and is retried; any other
// failure is permanent and aborts the run.
func (s *Sequencer) acquire(ctx context.Context, dir, name string) error {
	op := func() error {
		err := s.acquireOnce(ctx, dir, name)
		if err == nil {
			return nil
		}
		if isTimeout(err) {
			s.Detector.Stop()
			s.Log.Append(err.Error())
			return err
		}
		return Permanent(err)
	}
	return s.Retry.Retry(op)
}
