package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned when a byte stream is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a valid WAV file")

// EncodeWAV writes 16-bit little-endian PCM as a WAV file. The writer must be
// seekable because the header sizes are patched on close.
func EncodeWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: encode wav: invalid format %s", f)
	}
	samples := BytesToInt16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	e := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := e.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("audio: encode wav: close: %w", err)
	}
	return nil
}

// WriteWAVFile creates path and writes pcm into it as a WAV file.
func WriteWAVFile(path string, pcm []byte, f Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}
	if err := EncodeWAV(file, pcm, f); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audio: close wav: %w", err)
	}
	return nil
}

// DecodeWAV reads a PCM WAV file and returns its samples as 16-bit
// little-endian PCM together with the stream format. 8, 24 and 32-bit
// integer files are rescaled to 16 bits.
func DecodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	f := Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}

	shift := 0
	switch d.BitDepth {
	case 8, 16:
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return nil, f, fmt.Errorf("audio: decode wav: unsupported bit depth %d", d.BitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		if d.BitDepth == 8 {
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		}
		samples[i] = int16(v >> shift)
	}
	return Int16ToBytes(samples), f, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) ([]byte, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: open wav: %w", err)
	}
	defer file.Close()
	return DecodeWAV(file)
}
