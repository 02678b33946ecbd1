// Package oggopus encodes 48 kHz PCM into an Ogg Opus file (RFC 7845).
//
// Opus packets come from libopus through layeh.com/gopus; this package only
// adds the Ogg container around them.
package oggopus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"
)

const (
	// SampleRate is the only input rate the encoder accepts.
	SampleRate = 48000
	// FrameSize is the number of samples per channel in one 20 ms packet.
	FrameSize = 960

	preSkip       = 312
	maxPacketSize = 4000
	vendor        = "npcvoice"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("oggopus: encoder closed")

// PacketEncoder turns one frame of interleaved PCM into an Opus packet.
// *gopus.Encoder satisfies it.
type PacketEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithBitrate sets the Opus bitrate in bits per second.
func WithBitrate(bps int) Option {
	return func(e *Encoder) { e.bitrate = bps }
}

// WithSerial sets the Ogg logical stream serial number.
func WithSerial(serial uint32) Option {
	return func(e *Encoder) { e.pages.serial = serial }
}

// WithPacketEncoder replaces the libopus encoder.
func WithPacketEncoder(pe PacketEncoder) Option {
	return func(e *Encoder) { e.enc = pe }
}

// Encoder writes an Ogg Opus stream. Audio pages hold up to 50 packets (one
// second) and each page reaches the underlying writer as a single Write.
type Encoder struct {
	pages    pageWriter
	enc      PacketEncoder
	channels int
	bitrate  int

	pending  []int16
	packets  [][]byte
	segments int
	frames   int64
	input    int64
	closed   bool
}

// NewEncoder writes the OpusHead and OpusTags header pages to w and returns
// an encoder for channels-channel 48 kHz PCM.
func NewEncoder(w io.Writer, channels int, opts ...Option) (*Encoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("oggopus: unsupported channel count %d", channels)
	}
	e := &Encoder{
		pages:    pageWriter{w: w, serial: 0x6e706376},
		channels: channels,
	}
	for _, o := range opts {
		o(e)
	}
	if e.enc == nil {
		enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Audio)
		if err != nil {
			return nil, fmt.Errorf("oggopus: create opus encoder: %w", err)
		}
		if e.bitrate > 0 {
			enc.SetBitrate(e.bitrate)
		}
		e.enc = enc
	}

	if err := e.pages.writePage(flagBOS, 0, [][]byte{e.opusHead()}); err != nil {
		return nil, err
	}
	if err := e.pages.writePage(0, 0, [][]byte{opusTags()}); err != nil {
		return nil, err
	}
	return e, nil
}

// Write buffers interleaved PCM and encodes every complete frame.
func (e *Encoder) Write(pcm []int16) error {
	if e.closed {
		return ErrClosed
	}
	e.input += int64(len(pcm) / e.channels)
	e.pending = append(e.pending, pcm...)
	return e.encodeFrames()
}

// Close flushes the encoder delay, pads the final frame with silence and
// writes the end-of-stream page. It does not close the underlying writer.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	tail := preSkip * e.channels
	frame := FrameSize * e.channels
	if rem := (len(e.pending) + tail) % frame; rem != 0 {
		tail += frame - rem
	}
	e.pending = append(e.pending, make([]int16, tail)...)
	if err := e.encodeFrames(); err != nil {
		return err
	}

	// The final granule trims the padding so players stop at the real end.
	end := min(e.frames*FrameSize, preSkip+e.input)
	return e.flush(flagEOS, end)
}

func (e *Encoder) encodeFrames() error {
	frame := FrameSize * e.channels
	for len(e.pending) >= frame {
		pkt, err := e.enc.Encode(e.pending[:frame], FrameSize, maxPacketSize)
		if err != nil {
			return fmt.Errorf("oggopus: encode frame %d: %w", e.frames, err)
		}
		e.pending = e.pending[frame:]

		need := segmentCount(len(pkt))
		if e.segments+need > maxSegments || len(e.packets) == 50 {
			if err := e.flush(0, e.frames*FrameSize); err != nil {
				return err
			}
		}
		e.packets = append(e.packets, pkt)
		e.segments += need
		e.frames++
	}
	return nil
}

func (e *Encoder) flush(flags byte, granule int64) error {
	if len(e.packets) == 0 && flags&flagEOS == 0 {
		return nil
	}
	if err := e.pages.writePage(flags, granule, e.packets); err != nil {
		return err
	}
	e.packets = e.packets[:0]
	e.segments = 0
	return nil
}

func (e *Encoder) opusHead() []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = 1 // version
	b[9] = byte(e.channels)
	binary.LittleEndian.PutUint16(b[10:], preSkip)
	binary.LittleEndian.PutUint32(b[12:], SampleRate)
	// output gain and mapping family stay zero
	return b
}

func opusTags() []byte {
	b := make([]byte, 0, 8+4+len(vendor)+4)
	b = append(b, "OpusTags"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(vendor)))
	b = append(b, vendor...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return b
}
