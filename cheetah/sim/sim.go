/*Package sim is an in-process stand-in for a Cheetah detector.

It serves the same endpoints the real detector does, with a DA_IDLE /
DA_RECORDING state machine and synthetic TIFF frames, so the acquisition
stack can be exercised on a desk with no hardware attached.  cmd/cheetah-sim
wraps it in a standalone server for dry runs of the experiment CLI.
*/
package sim

import (
	"bytes"
	"encoding/json"
	"image"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/image/tiff"

	"github.com/uedlab/gued/cheetah"
)

// Simulator emulates one detector.  The zero value is not usable; call New.
type Simulator struct {
	// TimeScale stretches or shrinks exposure durations; 0 makes every
	// exposure complete instantaneously, which tests rely on
	TimeScale float64

	// FrameFunc renders the image for the seq-th exposure
	FrameFunc func(seq int) image.Image

	mu     sync.Mutex
	cfg    cheetah.DetectorConfig
	status string
	frame  []byte
	seq    int
}

// New returns a simulator in the idle state with a plausible boot-up config
func New() *Simulator {
	return &Simulator{
		TimeScale: 1,
		FrameFunc: defaultFrame,
		cfg: cheetah.DetectorConfig{
			NTriggers:     1,
			TriggerMode:   cheetah.TriggerAutoStartTimerStop,
			ExposureTime:  1.0,
			TriggerPeriod: 1.002,
		},
		status: cheetah.StatusIdle,
	}
}

// Router returns the simulator's HTTP surface
func (s *Simulator) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/dashboard", s.getDashboard)
	r.Get("/detector/config", s.getConfig)
	r.Put("/detector/config", s.putConfig)
	r.Get("/measurement/start", s.start)
	r.Get("/measurement/stop", s.stop)
	r.Get("/measurement/image", s.image)
	return r
}

// Status returns the current measurement status (for test assertions)
func (s *Simulator) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Config returns the current detector configuration (for test assertions)
func (s *Simulator) Config() cheetah.DetectorConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Simulator) getDashboard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc := map[string]interface{}{
		"Measurement": map[string]interface{}{
			"Status": s.status,
		},
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (s *Simulator) getConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Simulator) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg cheetah.DetectorConfig
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// the firmware refuses exposures that crowd the trigger period
	if cfg.ExposureTime > cfg.TriggerPeriod-0.002+1e-9 {
		http.Error(w, "ExposureTime too close to TriggerPeriod", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != cheetah.StatusIdle {
		http.Error(w, "detector is busy", http.StatusConflict)
		return
	}
	s.cfg = cfg
	w.WriteHeader(http.StatusOK)
}

func (s *Simulator) start(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != cheetah.StatusIdle {
		http.Error(w, "measurement already running", http.StatusConflict)
		return
	}
	s.status = cheetah.StatusRecording
	exposure := time.Duration(s.cfg.ExposureTime * s.TimeScale * float64(time.Second))
	seq := s.seq
	s.seq++
	go s.finish(seq, exposure)
	w.WriteHeader(http.StatusOK)
}

// finish renders the frame and returns the simulator to idle after the
// scaled exposure elapses
func (s *Simulator) finish(seq int, exposure time.Duration) {
	if exposure > 0 {
		time.Sleep(exposure)
	}
	buf := renderTIFF(s.FrameFunc(seq))
	s.mu.Lock()
	defer s.mu.Unlock()
	// a stop mid-exposure produces no frame, and a stale goroutine from a
	// stopped exposure must not complete a later one
	if s.status != cheetah.StatusRecording || s.seq != seq+1 {
		return
	}
	s.frame = buf
	s.status = cheetah.StatusIdle
}

func (s *Simulator) stop(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.status = cheetah.StatusIdle
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Simulator) image(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()
	if frame == nil {
		http.Error(w, "no image has been acquired", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/tiff")
	w.Write(frame)
}

// defaultFrame renders a 256x256 16-bit gradient with shot noise, enough
// structure to catch byte-order and truncation bugs downstream
func defaultFrame(seq int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, 256, 256))
	rng := rand.New(rand.NewSource(int64(seq)))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := uint16(x*256 + rng.Intn(512))
			i := img.PixOffset(x, y)
			img.Pix[i] = byte(v >> 8)
			img.Pix[i+1] = byte(v)
		}
	}
	return img
}

func renderTIFF(img image.Image) []byte {
	var buf bytes.Buffer
	// encode cannot fail writing to a bytes.Buffer with default options
	tiff.Encode(&buf, img, nil)
	return buf.Bytes()
}
