/*Package experiment sequences a continuous pump-probe experiment.

One Sequencer drives three pieces of hardware through narrow interfaces: the
detector (Cheetah), the pump and probe shutters (SC10), and the delay line
(XPS delay stage plus compensation stage).  Execution is strictly
single-threaded and sequential; one operation completes before the next
begins, and the only durable record of progress is the append-only
experiment.log in the save directory.
*/
package experiment

// Detector is the slice of the camera API the sequencer drives.  It is
// satisfied by *cheetah.Cheetah.
type Detector interface {
	// StartPreview triggers a single software-triggered acquisition
	StartPreview() error

	// Stop aborts an acquisition in progress
	Stop() error

	// Idle reports whether the detector is ready for a new acquisition
	Idle() (bool, error)

	// LastImage returns the most recent frame as raw bytes in the
	// detector's native codec
	LastImage() ([]byte, error)
}

// Shutter is an optical shutter that can be opened (enabled) or closed.
// It is satisfied by *thorlabs.SC10.
type Shutter interface {
	Enable(bool) error
}

// DelayLine is the two-stage delay line.  It is satisfied by
// *newport.Controller.
type DelayLine interface {
	// DelayToDistance converts a time delay in ps to primary-stage travel in mm
	DelayToDistance(ps float64) float64

	// DistanceToDelay converts primary-stage travel in mm to a time delay in ps
	DistanceToDelay(mm float64) float64

	// MoveCompensation commands the compensation stage to an absolute position
	MoveCompensation(mm float64) error

	// MoveToTime commands the primary stage to the given time delay anchored
	// at the origin position
	MoveToTime(ps, origin float64) error

	// WaitMotionComplete blocks until the primary stage is at rest
	WaitMotionComplete() error
}
