package experiment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/uedlab/gued/util"
)

// ErrNoDelays is returned when a delay specification contains no delays
var ErrNoDelays = errors.New("experiment: no delays requested")

// ParseDelays parses a delay specification into a sorted list of time delays
// in picoseconds, each rounded to 3 decimals (the femtosecond).
//
// The specification is comma separated; each element is either a number or a
// start:step:stop range, half-open (stop itself is excluded):
//
//	"1,2,3"      => [1 2 3]
//	"0:1:5"      => [0 1 2 3 4]
//	"-5,0:2:6"   => [-5 0 2 4]
//
// Malformed elements are an error.  The empty specification is ErrNoDelays,
// not an empty list: an experiment with nothing to scan should fail loudly
// before any hardware moves.
func ParseDelays(spec string) ([]float64, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, ErrNoDelays
	}
	var delays []float64
	for _, elem := range strings.Split(spec, ",") {
		elem = strings.TrimSpace(elem)
		if v, err := strconv.ParseFloat(elem, 64); err == nil {
			delays = append(delays, util.RoundPlaces(v, 3))
			continue
		}
		parts := strings.Split(elem, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("experiment: bad delay element %q: want a number or start:step:stop", elem)
		}
		var rng [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("experiment: bad delay range %q: %q is not a number", elem, p)
			}
			rng[i] = v
		}
		for _, v := range util.Arange(rng[0], rng[2], rng[1]) {
			delays = append(delays, util.RoundPlaces(v, 3))
		}
	}
	if len(delays) == 0 {
		return nil, ErrNoDelays
	}
	sort.Float64s(delays)
	return delays, nil
}
