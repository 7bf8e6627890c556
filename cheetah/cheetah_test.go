package cheetah_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"net/http/httptest"

	"golang.org/x/image/tiff"

	"github.com/uedlab/gued/cheetah"
	"github.com/uedlab/gued/cheetah/sim"
)

func newSimClient(t *testing.T) (*sim.Simulator, *cheetah.Cheetah) {
	s := sim.New()
	s.TimeScale = 0 // instantaneous exposures
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, cheetah.NewFromURL(ts.URL)
}

func TestStatusStartsIdle(t *testing.T) {
	_, c := newSimClient(t)
	status, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status != cheetah.StatusIdle {
		t.Errorf("expected %s, got %s", cheetah.StatusIdle, status)
	}
}

func TestConfigureGrowingExposure(t *testing.T) {
	// boot config has a ~1 s trigger period; a 5 s exposure forces the
	// period to be written first or the firmware would reject the document
	s, c := newSimClient(t)
	err := c.Configure(cheetah.AcquisitionConfig{
		NTriggers:   1,
		TriggerMode: cheetah.TriggerAutoStartTimerStop,
		Exposure:    5,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := s.Config()
	if cfg.ExposureTime != 5 {
		t.Errorf("expected exposure 5, got %v", cfg.ExposureTime)
	}
	if cfg.TriggerPeriod != 5.002 {
		t.Errorf("expected trigger period 5.002, got %v", cfg.TriggerPeriod)
	}
	if cfg.NTriggers != 1 || cfg.TriggerMode != cheetah.TriggerAutoStartTimerStop {
		t.Errorf("trigger setup not applied: %+v", cfg)
	}
}

func TestConfigureShrinkingExposure(t *testing.T) {
	s, c := newSimClient(t)
	err := c.Configure(cheetah.AcquisitionConfig{
		NTriggers:   1,
		TriggerMode: cheetah.TriggerAutoStartTimerStop,
		Exposure:    0.005,
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := s.Config()
	if cfg.ExposureTime != 0.005 {
		t.Errorf("expected exposure 0.005, got %v", cfg.ExposureTime)
	}
	if cfg.TriggerPeriod != 0.007 {
		t.Errorf("expected trigger period 0.007, got %v", cfg.TriggerPeriod)
	}
}

func TestPreviewWaitFetchRoundTrip(t *testing.T) {
	_, c := newSimClient(t)
	if err := c.StartPreview(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitUntilIdle(ctx); err != nil {
		t.Fatal(err)
	}
	img, err := c.LastImage()
	if err != nil {
		t.Fatal(err)
	}
	// the payload must be a decodable TIFF, untouched by the client
	decoded, err := tiff.Decode(bytes.NewReader(img))
	if err != nil {
		t.Fatal("image is not valid TIFF:", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 256 || b.Dy() != 256 {
		t.Errorf("expected 256x256 frame, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestLastImageBeforeAnyAcquisition(t *testing.T) {
	_, c := newSimClient(t)
	if _, err := c.LastImage(); err == nil {
		t.Error("expected error fetching image before any acquisition")
	}
}

func TestStopReturnsDetectorToIdle(t *testing.T) {
	s, c := newSimClient(t)
	s.TimeScale = 1 // 1 s boot exposure, long enough to catch mid-flight
	if err := c.StartPreview(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	idle, err := c.Idle()
	if err != nil {
		t.Fatal(err)
	}
	if !idle {
		t.Error("expected detector idle after stop")
	}
}
