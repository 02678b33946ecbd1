package preset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Value is a base-config value: either a [Concrete] string or an unresolved
// [Directive]. The set of implementations is closed.
type Value interface {
	isValue()
	fmt.Stringer
}

// Concrete is a literal base-config value, persisted as-is.
type Concrete string

func (Concrete) isValue() {}

func (c Concrete) String() string { return string(c) }

// Directive asks for a value to be chosen when the preset is applied. The
// only supported mode is [ModeRandom]; Gender is "male", "female" or "any".
type Directive struct {
	Mode   string `json:"directive"`
	Gender string `json:"gender"`
}

func (Directive) isValue() {}

func (d Directive) String() string {
	return fmt.Sprintf("('%s', '%s')", d.Mode, d.Gender)
}

// Directive modes and genders.
const (
	ModeRandom = "random"
	GenderAny  = "any"
)

// legacyDirective matches the tuple-string directive form, e.g.
// "('random', 'male')".
var legacyDirective = regexp.MustCompile(`^\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)$`)

// ParseValue interprets a raw string value. Tuple-shaped strings become a
// [Directive]; anything else is [Concrete].
func ParseValue(s string) Value {
	if m := legacyDirective.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return Directive{Mode: m[1], Gender: m[2]}
	}
	return Concrete(s)
}

// decodeValue accepts a JSON string, number, bool, or {"directive", "gender"}
// object.
func decodeValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return ParseValue(s), nil
	case '{':
		var d Directive
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("directive: %w", err)
		}
		if d.Mode == "" {
			return nil, fmt.Errorf("directive: missing mode")
		}
		if d.Gender == "" {
			d.Gender = GenderAny
		}
		return d, nil
	case '[', 'n':
		return nil, fmt.Errorf("unsupported value %s", raw)
	default:
		// Numbers and booleans keep their JSON spelling.
		return Concrete(string(raw)), nil
	}
}

func encodeValue(v Value) any {
	switch v := v.(type) {
	case Directive:
		return v
	default:
		return v.String()
	}
}

// decodeSetting reads an effect setting. Numbers are kept in their shortest
// decimal form so they round-trip through the string-typed store.
func decodeSetting(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("setting must be a number or string: %w", err)
	}
	return FormatNumber(f), nil
}

// FormatNumber renders f in its shortest round-tripping decimal form.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
