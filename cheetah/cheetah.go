/*Package cheetah speaks the HTTP control API of an ASI Cheetah (Timepix3)
event camera.

The detector runs an embedded web server; everything is plain request/response
with JSON bodies, except the image endpoint which returns the most recent
frame in the detector's native codec (TIFF).  Callers that persist frames
must write those bytes untouched; re-encoding would destroy the 16-bit count
data.
*/
package cheetah

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// measurement status strings reported by the detector
const (
	StatusIdle      = "DA_IDLE"
	StatusRecording = "DA_RECORDING"
)

// TriggerAutoStartTimerStop is the trigger mode used for software-triggered
// single exposures: acquisition starts on command and the exposure timer
// stops it.
const TriggerAutoStartTimerStop = "AUTOTRIGSTART_TIMERSTOP"

// triggerPeriodMargin is the minimum gap the firmware requires between
// ExposureTime and TriggerPeriod, in seconds.
const triggerPeriodMargin = 0.002

// statusPollInterval paces WaitUntilIdle's queries against the detector
const statusPollInterval = 50 * time.Millisecond

// DetectorConfig mirrors the detector's /detector/config JSON document.
// Only the fields this instrument drives are mapped; the detector preserves
// whatever it sent that we do not echo back.
type DetectorConfig struct {
	NTriggers     int     `json:"nTriggers"`
	TriggerMode   string  `json:"TriggerMode"`
	ExposureTime  float64 `json:"ExposureTime"`
	TriggerPeriod float64 `json:"TriggerPeriod"`
}

// AcquisitionConfig is the caller-facing configuration for an acquisition
// series.  It is applied with Configure; the trigger period is derived from
// the exposure, not set directly.
type AcquisitionConfig struct {
	NTriggers   int
	TriggerMode string

	// Exposure is the exposure time of each image in seconds
	Exposure float64
}

// measurementInfo is the Measurement.Info subdocument of /dashboard
type measurementInfo struct {
	Status   string  `json:"Status"`
	TimeLeft float64 `json:"TimeLeft"`
}

type dashboard struct {
	Measurement measurementInfo `json:"Measurement"`
}

// Cheetah is a client for one detector
type Cheetah struct {
	url    string
	client *http.Client
	poll   *rate.Limiter
}

// New returns a client for the detector at ip:port
func New(ip string, port int) *Cheetah {
	return NewFromURL(fmt.Sprintf("http://%s:%d", ip, port))
}

// NewFromURL returns a client for the detector rooted at the given URL,
// e.g. an httptest server in front of the simulator
func NewFromURL(url string) *Cheetah {
	return &Cheetah{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		poll:   rate.NewLimiter(rate.Every(statusPollInterval), 1),
	}
}

// URL returns the root URL of the detector's API
func (c *Cheetah) URL() string {
	return c.url
}

func (c *Cheetah) get(path string) ([]byte, error) {
	resp, err := c.client.Get(c.url + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cheetah: GET %s: %s: %s", path, resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}

func (c *Cheetah) getJSON(path string, dst interface{}) error {
	body, err := c.get(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

// DetectorConfig fetches the detector's current configuration
func (c *Cheetah) DetectorConfig() (DetectorConfig, error) {
	var cfg DetectorConfig
	err := c.getJSON("/detector/config", &cfg)
	return cfg, err
}

// SetDetectorConfig uploads a configuration document to the detector
func (c *Cheetah) SetDetectorConfig(cfg DetectorConfig) error {
	buf, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.url+"/detector/config", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cheetah: PUT /detector/config: %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}

// Configure applies an AcquisitionConfig.  The firmware rejects any state
// where ExposureTime is within triggerPeriodMargin of TriggerPeriod, so the
// order of the exposure and period writes depends on which side of the
// constraint the detector starts on.
func (c *Cheetah) Configure(acq AcquisitionConfig) error {
	cfg, err := c.DetectorConfig()
	if err != nil {
		return err
	}
	cfg.NTriggers = acq.NTriggers
	cfg.TriggerMode = acq.TriggerMode
	if err := c.SetDetectorConfig(cfg); err != nil {
		return err
	}
	if acq.Exposure+triggerPeriodMargin > cfg.TriggerPeriod {
		cfg.TriggerPeriod = acq.Exposure + triggerPeriodMargin
		if err := c.SetDetectorConfig(cfg); err != nil {
			return err
		}
		cfg.ExposureTime = acq.Exposure
		return c.SetDetectorConfig(cfg)
	}
	cfg.ExposureTime = acq.Exposure
	if err := c.SetDetectorConfig(cfg); err != nil {
		return err
	}
	cfg.TriggerPeriod = acq.Exposure + triggerPeriodMargin
	return c.SetDetectorConfig(cfg)
}

// Status returns the detector's measurement status string, e.g. DA_IDLE
func (c *Cheetah) Status() (string, error) {
	var d dashboard
	if err := c.getJSON("/dashboard", &d); err != nil {
		return "", err
	}
	return d.Measurement.Status, nil
}

// Idle reports whether the detector is ready for a new acquisition
func (c *Cheetah) Idle() (bool, error) {
	status, err := c.Status()
	if err != nil {
		return false, err
	}
	return status == StatusIdle, nil
}

// StartPreview triggers a preview acquisition using the current configuration
func (c *Cheetah) StartPreview() error {
	_, err := c.get("/measurement/start")
	return err
}

// Stop aborts any acquisition in progress
func (c *Cheetah) Stop() error {
	_, err := c.get("/measurement/stop")
	return err
}

// WaitUntilIdle polls the detector status at a fixed rate until it reports
// idle, a query fails, or the context is done
func (c *Cheetah) WaitUntilIdle(ctx context.Context) error {
	for {
		if err := c.poll.Wait(ctx); err != nil {
			return err
		}
		idle, err := c.Idle()
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
	}
}

// LastImage fetches the most recent frame as raw bytes in the detector's
// native codec
func (c *Cheetah) LastImage() ([]byte, error) {
	return c.get("/measurement/image")
}
