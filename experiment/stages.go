package experiment

/*StagePolicy holds the delay-line geometry constants.

The primary delay stage reaches roughly PrimaryReach position units either
side of the time-zero offset.  Delays that map outside that window are
reached by parking the compensation stage at plus or minus CompensationStep,
which shifts the line's zero point in a discrete jump, and then pointing the
primary stage at the remainder.  The numbers are properties of the installed
stages, not derived quantities.
*/
type StagePolicy struct {
	// T0Offset is the primary-stage position of zero pump-probe delay
	T0Offset float64

	// PrimaryReach is the primary stage's usable travel either side of T0Offset
	PrimaryReach float64

	// CompensationStep is the magnitude of the compensation stage's parking
	// positions
	CompensationStep float64
}

// DefaultStagePolicy returns the installed delay line's constants
func DefaultStagePolicy() StagePolicy {
	return StagePolicy{
		T0Offset:         100,
		PrimaryReach:     100,
		CompensationStep: 120,
	}
}

// MoveToDelay positions both stages so the effective optical delay equals
// ps, and blocks until motion completes.  No acquisition may start while the
// line is still moving; callers rely on this returning only at rest.
//
// Ties at the reach boundaries go to the lower branch: a target of exactly
// -PrimaryReach parks the compensation stage negative, and exactly
// +PrimaryReach leaves it at zero.
func (p StagePolicy) MoveToDelay(dl DelayLine, ps float64) error {
	newPos := dl.DelayToDistance(ps) + p.T0Offset
	var comp float64
	switch {
	case newPos <= -p.PrimaryReach:
		comp = -p.CompensationStep
	case newPos <= p.PrimaryReach:
		comp = 0
	default:
		comp = p.CompensationStep
	}
	if err := dl.MoveCompensation(comp); err != nil {
		return err
	}
	target := ps
	if comp != 0 {
		target -= dl.DistanceToDelay(comp)
	}
	if err := dl.MoveToTime(target, p.T0Offset); err != nil {
		return err
	}
	return dl.WaitMotionComplete()
}
