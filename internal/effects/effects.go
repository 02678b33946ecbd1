// Package effects implements the post-synthesis audio effect chain.
//
// Every effect is created by name from a fixed registry and declares a typed
// parameter schema. Settings arrive as strings from the character store and
// are bound through that schema, so an unknown parameter or an out-of-range
// value is rejected with a [*ConfigError] instead of being silently ignored.
package effects

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/go-audio/audio"
)

// Sentinel causes carried by [ConfigError].
var (
	ErrUnknownEffect = errors.New("unknown effect")
	ErrUnknownParam  = errors.New("unknown parameter")
	ErrInvalidValue  = errors.New("invalid parameter value")
)

// ConfigError reports a problem with an effect configuration.
type ConfigError struct {
	Effect string
	Param  string // empty for effect-level errors
	Value  string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Param == "":
		return fmt.Sprintf("effects: %s: %v", e.Effect, e.Err)
	case e.Value == "":
		return fmt.Sprintf("effects: %s.%s: %v", e.Effect, e.Param, e.Err)
	default:
		return fmt.Sprintf("effects: %s.%s=%q: %v", e.Effect, e.Param, e.Value, e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Effect processes mono float audio in place. Implementations may change the
// buffer length (pitch shifting does).
type Effect interface {
	// Name returns the registry name.
	Name() string

	// Params returns the parameter schema in declaration order.
	Params() []Param

	// Set binds a parameter from its string form.
	Set(param, value string) error

	// Value returns the current value of a parameter.
	Value(param string) (float64, bool)

	// Process applies the effect to buf.
	Process(buf *audio.FloatBuffer) error
}

type constructor func() Effect

var registry = map[string]constructor{
	"Gain":           newGain,
	"Distortion":     newDistortion,
	"LowpassFilter":  newLowpass,
	"HighpassFilter": newHighpass,
	"Delay":          newDelay,
	"Bitcrush":       newBitcrush,
	"PitchShift":     newPitchShift,
	"Chorus":         newChorus,
}

// New returns a fresh effect with default parameters.
func New(name string) (Effect, error) {
	c, ok := registry[name]
	if !ok {
		return nil, &ConfigError{Effect: name, Err: ErrUnknownEffect}
	}
	return c(), nil
}

// Names returns every registered effect name, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Setting is one stored parameter value.
type Setting struct {
	Param string
	Value string
}

// Build creates the named effect and binds settings in order. An unknown
// effect name is returned as an error. Settings the effect rejects are
// logged and skipped; the rejected errors are also returned in skipped.
func Build(name string, settings []Setting) (e Effect, skipped []error, err error) {
	e, err = New(name)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range settings {
		if serr := e.Set(s.Param, s.Value); serr != nil {
			slog.Warn("effects: skipping setting", "effect", name, "param", s.Param, "value", s.Value, "err", serr)
			skipped = append(skipped, serr)
		}
	}
	return e, skipped, nil
}

// Chain is an ordered list of effects.
type Chain []Effect

// Process runs every effect in order.
func (c Chain) Process(buf *audio.FloatBuffer) error {
	for _, e := range c {
		if err := e.Process(buf); err != nil {
			return fmt.Errorf("effects: %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Names returns the effect names in chain order.
func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, e := range c {
		out[i] = e.Name()
	}
	return out
}
