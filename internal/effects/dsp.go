package effects

import (
	"errors"
	"math"

	"github.com/go-audio/audio"
)

var errNoFormat = errors.New("buffer has no sample rate")

func sampleRate(buf *audio.FloatBuffer) (float64, error) {
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return 0, errNoFormat
	}
	return float64(buf.Format.SampleRate), nil
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

// Gain

type gain struct{ params }

func newGain() Effect {
	return &gain{newParams("Gain", Param{Name: "gain_db", Kind: KindFloat, Min: -60, Max: 24, Default: 0})}
}

func (e *gain) Process(buf *audio.FloatBuffer) error {
	g := dbToLinear(e.get("gain_db"))
	for i, s := range buf.Data {
		buf.Data[i] = clamp(s * g)
	}
	return nil
}

// Distortion is tanh soft clipping after a drive stage.

type distortion struct{ params }

func newDistortion() Effect {
	return &distortion{newParams("Distortion", Param{Name: "drive_db", Kind: KindFloat, Min: 0, Max: 60, Default: 25})}
}

func (e *distortion) Process(buf *audio.FloatBuffer) error {
	g := dbToLinear(e.get("drive_db"))
	for i, s := range buf.Data {
		buf.Data[i] = math.Tanh(s * g)
	}
	return nil
}

// biquad is a direct form I second order section.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// newBiquad returns RBJ cookbook low- or high-pass coefficients with Q = 1/sqrt(2).
func newBiquad(cutoff, rate float64, high bool) *biquad {
	cutoff = math.Min(cutoff, rate/2*0.99)
	w0 := 2 * math.Pi * cutoff / rate
	cos, sin := math.Cos(w0), math.Sin(w0)
	alpha := sin / math.Sqrt2
	a0 := 1 + alpha

	var b0, b1, b2 float64
	if high {
		b0, b1, b2 = (1+cos)/2, -(1 + cos), (1+cos)/2
	} else {
		b0, b1, b2 = (1-cos)/2, 1-cos, (1-cos)/2
	}
	return &biquad{
		b0: b0 / a0, b1: b1 / a0, b2: b2 / a0,
		a1: -2 * cos / a0, a2: (1 - alpha) / a0,
	}
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

type filter struct {
	params
	high bool
}

func newLowpass() Effect {
	return &filter{params: newParams("LowpassFilter", Param{Name: "cutoff_hz", Kind: KindFloat, Min: 20, Max: 20000, Default: 5000})}
}

func newHighpass() Effect {
	return &filter{params: newParams("HighpassFilter", Param{Name: "cutoff_hz", Kind: KindFloat, Min: 20, Max: 20000, Default: 50}), high: true}
}

func (e *filter) Process(buf *audio.FloatBuffer) error {
	rate, err := sampleRate(buf)
	if err != nil {
		return err
	}
	bq := newBiquad(e.get("cutoff_hz"), rate, e.high)
	for i, s := range buf.Data {
		buf.Data[i] = bq.step(s)
	}
	return nil
}

// Delay is a feedback echo mixed with the dry signal.

type delay struct{ params }

func newDelay() Effect {
	return &delay{newParams("Delay",
		Param{Name: "delay_seconds", Kind: KindFloat, Min: 0, Max: 2, Default: 0.5},
		Param{Name: "feedback", Kind: KindFloat, Min: 0, Max: 0.95, Default: 0},
		Param{Name: "mix", Kind: KindFloat, Min: 0, Max: 1, Default: 0.5},
	)}
}

func (e *delay) Process(buf *audio.FloatBuffer) error {
	rate, err := sampleRate(buf)
	if err != nil {
		return err
	}
	n := int(e.get("delay_seconds") * rate)
	if n <= 0 {
		return nil
	}
	fb, mix := e.get("feedback"), e.get("mix")
	line := make([]float64, n)
	pos := 0
	for i, dry := range buf.Data {
		wet := line[pos]
		line[pos] = dry + wet*fb
		pos = (pos + 1) % n
		buf.Data[i] = clamp(dry*(1-mix) + wet*mix)
	}
	return nil
}

// Bitcrush quantizes samples to a lower bit depth.

type bitcrush struct{ params }

func newBitcrush() Effect {
	return &bitcrush{newParams("Bitcrush", Param{Name: "bit_depth", Kind: KindInt, Min: 1, Max: 32, Default: 8})}
}

func (e *bitcrush) Process(buf *audio.FloatBuffer) error {
	levels := math.Pow(2, e.get("bit_depth")-1)
	for i, s := range buf.Data {
		buf.Data[i] = math.Round(s*levels) / levels
	}
	return nil
}

// PitchShift resamples by 2^(semitones/12). Duration changes with pitch.

type pitchShift struct{ params }

func newPitchShift() Effect {
	return &pitchShift{newParams("PitchShift", Param{Name: "semitones", Kind: KindFloat, Min: -12, Max: 12, Default: 0})}
}

func (e *pitchShift) Process(buf *audio.FloatBuffer) error {
	st := e.get("semitones")
	if st == 0 || len(buf.Data) < 2 {
		return nil
	}
	ratio := math.Pow(2, st/12)
	n := int(float64(len(buf.Data)) / ratio)
	out := make([]float64, n)
	last := len(buf.Data) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = buf.Data[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = buf.Data[j]*(1-frac) + buf.Data[j+1]*frac
	}
	buf.Data = out
	return nil
}

// Chorus mixes in a copy read through an LFO-modulated delay.

type chorus struct{ params }

const chorusBaseDelay = 0.015 // seconds

func newChorus() Effect {
	return &chorus{newParams("Chorus",
		Param{Name: "rate_hz", Kind: KindFloat, Min: 0.01, Max: 10, Default: 1},
		Param{Name: "depth", Kind: KindFloat, Min: 0, Max: 1, Default: 0.25},
		Param{Name: "mix", Kind: KindFloat, Min: 0, Max: 1, Default: 0.5},
	)}
}

func (e *chorus) Process(buf *audio.FloatBuffer) error {
	rate, err := sampleRate(buf)
	if err != nil {
		return err
	}
	lfoRate, depth, mix := e.get("rate_hz"), e.get("depth"), e.get("mix")
	dry := make([]float64, len(buf.Data))
	copy(dry, buf.Data)

	base := chorusBaseDelay * rate
	for i := range buf.Data {
		lfo := math.Sin(2 * math.Pi * lfoRate * float64(i) / rate)
		d := base * (1 + depth*lfo)
		pos := float64(i) - d
		var wet float64
		if pos >= 0 {
			j := int(pos)
			frac := pos - float64(j)
			wet = dry[j] * (1 - frac)
			if j+1 < len(dry) {
				wet += dry[j+1] * frac
			}
		}
		buf.Data[i] = clamp(dry[i]*(1-mix) + wet*mix)
	}
	return nil
}
