// Package attenuation maps the distance between a sound and the listener to
// a gain in [0,1].
//
// [Attenuate] is pure and stateless; it is safe for concurrent use and never
// fails. Malformed [Settings] are normalised instead of rejected, because a
// missed sound is preferable to a broken audio tick.
package attenuation

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Curve selects the shape of the falloff between MinDistance and MaxDistance.
type Curve int

const (
	// Linear falls off as 1 - t.
	Linear Curve = iota

	// Logarithmic falls off as 1 - log10(1 + 9t): fast at first, then slow.
	Logarithmic

	// InverseSquare falls off as 1 / (1 + 4t²).
	InverseSquare

	// Exponential falls off as e^(-3t).
	Exponential

	// Custom delegates to [Settings.Custom].
	Custom
)

// String returns the config-file name of the curve.
func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Logarithmic:
		return "logarithmic"
	case InverseSquare:
		return "inverse_square"
	case Exponential:
		return "exponential"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseCurve converts a config-file name into a [Curve]. Matching is
// case-insensitive; the empty string selects [Linear].
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "logarithmic", "log":
		return Logarithmic, nil
	case "inverse_square", "inverse-square", "inversesquare":
		return InverseSquare, nil
	case "exponential", "exp":
		return Exponential, nil
	case "custom":
		return Custom, nil
	}
	return Linear, fmt.Errorf("attenuation: unknown curve %q", s)
}

// Settings describes how a voice fades with distance.
type Settings struct {
	Curve Curve

	// MinDistance is the radius inside which the voice plays at full volume.
	MinDistance float64

	// MaxDistance is the radius beyond which the voice is inaudible.
	MaxDistance float64

	// Rolloff scales the normalised distance before the curve is applied.
	// Values above 1 make the voice fade faster. Non-positive values mean 1.
	Rolloff float64

	// Custom maps the normalised distance t in [0,1] to a gain. Only used when
	// Curve is [Custom]; a nil Custom behaves like [Linear].
	Custom func(t float64) float64
}

// DefaultSettings returns a linear falloff from 1 to 50 units.
func DefaultSettings() Settings {
	return Settings{
		Curve:       Linear,
		MinDistance: 1,
		MaxDistance: 50,
		Rolloff:     1,
	}
}

// Validate reports settings that [Attenuate] will have to normalise. It is
// meant for config-time warnings; Attenuate accepts any Settings.
func (s Settings) Validate() error {
	var errs []error
	if s.MinDistance < 0 {
		errs = append(errs, fmt.Errorf("min distance %g is negative", s.MinDistance))
	}
	if s.MaxDistance <= s.MinDistance {
		errs = append(errs, fmt.Errorf("max distance %g must exceed min distance %g", s.MaxDistance, s.MinDistance))
	}
	if s.Rolloff < 0 {
		errs = append(errs, fmt.Errorf("rolloff %g is negative", s.Rolloff))
	}
	if s.Curve < Linear || s.Curve > Custom {
		errs = append(errs, fmt.Errorf("curve %d is unknown", int(s.Curve)))
	}
	return errors.Join(errs...)
}

// Attenuate returns the gain in [0,1] for a sound distance units away from
// the listener.
//
// Inside MinDistance the gain is 1, at or beyond MaxDistance it is 0. When
// MaxDistance <= MinDistance there is no falloff band and the voice is either
// at full volume or silent.
func Attenuate(distance float64, s Settings) float64 {
	if distance <= s.MinDistance {
		return 1
	}
	if distance >= s.MaxDistance {
		return 0
	}

	t := (distance - s.MinDistance) / (s.MaxDistance - s.MinDistance)
	rolloff := s.Rolloff
	if rolloff <= 0 {
		rolloff = 1
	}
	t = math.Min(t*rolloff, 1)

	return clamp01(shape(s, t))
}

func shape(s Settings, t float64) float64 {
	switch s.Curve {
	case Logarithmic:
		return 1 - math.Log10(1+9*t)
	case InverseSquare:
		return 1 / (1 + 4*t*t)
	case Exponential:
		return math.Exp(-3 * t)
	case Custom:
		if s.Custom != nil {
			return s.Custom(t)
		}
	}
	return 1 - t
}

// clamp01 limits v to [0,1]. NaN maps to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
