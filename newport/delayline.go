package newport

import (
	"time"
)

// mmPerPs is the stage travel corresponding to one picosecond of optical
// delay: the speed of light folded by the retroreflector's double pass.
const mmPerPs = 0.299792458 / 2

// motionPollInterval is how often WaitEndOfMove queries the controller
const motionPollInterval = 50 * time.Millisecond

// Stage is a single positioner on an XPS controller, addressed by its group
// name per the one-positioner-per-group convention.
type Stage struct {
	xps   *XPS
	group string
}

// NewStage returns a stage bound to a group on the given controller
func NewStage(xps *XPS, group string) *Stage {
	return &Stage{xps: xps, group: group}
}

// AbsoluteMove commands the stage to an absolute position in mm.  It does
// not wait for the move to finish; use WaitEndOfMove for that.
func (s *Stage) AbsoluteMove(pos float64) error {
	return s.xps.GroupMoveAbsolute(s.group, []float64{pos})
}

// Position returns the current absolute position of the stage in mm
func (s *Stage) Position() (float64, error) {
	pos, err := s.xps.GroupPositionCurrentGet(s.group, 1)
	if err != nil {
		return 0, err
	}
	return pos[0], nil
}

// Moving queries whether the stage is currently in motion
func (s *Stage) Moving() (bool, error) {
	status, err := s.xps.GroupMotionStatusGet(s.group, 1)
	if err != nil {
		return false, err
	}
	return status != 0, nil
}

// WaitEndOfMove blocks until the controller reports the stage at rest
func (s *Stage) WaitEndOfMove() error {
	for {
		moving, err := s.Moving()
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}
		time.Sleep(motionPollInterval)
	}
}

// DelayStage is the primary pump-probe delay stage: a linear stage whose
// position maps to optical delay through the folded beam path.
type DelayStage struct {
	Stage
}

// NewDelayStage returns a delay stage bound to a group on the controller
func NewDelayStage(xps *XPS, group string) *DelayStage {
	return &DelayStage{Stage{xps: xps, group: group}}
}

// DelayToDistance converts a time delay in ps to stage travel in mm
func (d *DelayStage) DelayToDistance(ps float64) float64 {
	return ps * mmPerPs
}

// DistanceToDelay converts stage travel in mm to a time delay in ps
func (d *DelayStage) DistanceToDelay(mm float64) float64 {
	return mm / mmPerPs
}

// AbsoluteTime moves the stage to the position producing the given time
// delay in ps, anchored at the origin position in mm
func (d *DelayStage) AbsoluteTime(ps, origin float64) error {
	return d.AbsoluteMove(origin + d.DelayToDistance(ps))
}

// Controller bundles the two stages of the delay line on one XPS.
// It satisfies the sequencer's DelayLine interface.
type Controller struct {
	XPS               *XPS
	DelayStage        *DelayStage
	CompensationStage *Stage
}

// NewController connects to the XPS at addr and binds the delay and
// compensation stage groups
func NewController(addr, delayGroup, compGroup string) *Controller {
	xps := NewXPS(addr)
	return &Controller{
		XPS:               xps,
		DelayStage:        NewDelayStage(xps, delayGroup),
		CompensationStage: NewStage(xps, compGroup),
	}
}

// DelayToDistance converts a time delay in ps to delay-stage travel in mm
func (c *Controller) DelayToDistance(ps float64) float64 {
	return c.DelayStage.DelayToDistance(ps)
}

// DistanceToDelay converts delay-stage travel in mm to a time delay in ps
func (c *Controller) DistanceToDelay(mm float64) float64 {
	return c.DelayStage.DistanceToDelay(mm)
}

// MoveCompensation commands the compensation stage to an absolute position
func (c *Controller) MoveCompensation(pos float64) error {
	return c.CompensationStage.AbsoluteMove(pos)
}

// MoveToTime commands the delay stage to the given time delay anchored at
// the origin position
func (c *Controller) MoveToTime(ps, origin float64) error {
	return c.DelayStage.AbsoluteTime(ps, origin)
}

// WaitMotionComplete blocks until the delay stage finishes its move
func (c *Controller) WaitMotionComplete() error {
	return c.DelayStage.WaitEndOfMove()
}
