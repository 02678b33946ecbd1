package effects

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is a parameter's value type.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
)

func (k Kind) String() string {
	if k == KindInt {
		return "int"
	}
	return "float"
}

// Param declares one effect parameter. Values must lie in [Min, Max].
type Param struct {
	Name    string
	Kind    Kind
	Min     float64
	Max     float64
	Default float64
}

// parse converts raw to a value valid for p.
func (p Param) parse(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	if p.Kind == KindInt && v != math.Trunc(v) {
		return 0, fmt.Errorf("want an integer")
	}
	if v < p.Min || v > p.Max {
		return 0, fmt.Errorf("out of range [%g, %g]", p.Min, p.Max)
	}
	return v, nil
}

// params is embedded by every effect to provide schema-driven binding.
type params struct {
	name   string
	schema []Param
	values []float64
}

func newParams(name string, schema ...Param) params {
	values := make([]float64, len(schema))
	for i, p := range schema {
		values[i] = p.Default
	}
	return params{name: name, schema: schema, values: values}
}

func (p *params) Name() string { return p.name }

func (p *params) Params() []Param {
	out := make([]Param, len(p.schema))
	copy(out, p.schema)
	return out
}

func (p *params) Set(param, value string) error {
	for i, s := range p.schema {
		if s.Name != param {
			continue
		}
		v, err := s.parse(value)
		if err != nil {
			return &ConfigError{Effect: p.name, Param: param, Value: value, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
		p.values[i] = v
		return nil
	}
	return &ConfigError{Effect: p.name, Param: param, Err: ErrUnknownParam}
}

func (p *params) Value(param string) (float64, bool) {
	for i, s := range p.schema {
		if s.Name == param {
			return p.values[i], true
		}
	}
	return 0, false
}

// get returns the value of a declared parameter. It panics on an undeclared
// name, which is a programming error inside this package.
func (p *params) get(param string) float64 {
	v, ok := p.Value(param)
	if !ok {
		panic("effects: undeclared parameter " + p.name + "." + param)
	}
	return v
}
