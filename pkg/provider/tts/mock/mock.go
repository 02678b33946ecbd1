// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled PCM to the render pipeline and to verify
// which text and VoiceProfile reached the engine.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{pcm},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Metadata: map[string]string{"gender": "male"}}},
//	}
//	pcm, _ := tts.Synthesize(ctx, p, "Halt!", voice)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/npcvoice/pkg/provider/tts"
	"github.com/MrWong99/npcvoice/pkg/types"
)

// DefaultSampleRate is reported when Rate is zero.
const DefaultSampleRate = 22050

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
	// Texts holds every fragment read from the text channel. It is complete
	// once the returned audio channel has been closed.
	Texts []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from
	// SynthesizeStream instead of starting a channel.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// Rate is returned by SampleRate; zero means DefaultSampleRate.
	Rate int

	// --- Call records ---

	synthCalls     []*SynthesizeStreamCall
	listVoiceCalls int
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks after the text channel is drained.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	call := &SynthesizeStreamCall{Voice: voice}
	p.mu.Lock()
	p.synthCalls = append(p.synthCalls, call)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := slices.Clone(p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for s := range text {
			p.mu.Lock()
			call.Texts = append(call.Texts, s)
			p.mu.Unlock()
		}
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- slices.Clone(audio):
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listVoiceCalls++
	return slices.Clone(p.ListVoicesResult), p.ListVoicesErr
}

// CloneVoice always fails with tts.ErrCloneUnsupported.
func (p *Provider) CloneVoice(context.Context, [][]byte) (*types.VoiceProfile, error) {
	return nil, tts.ErrCloneUnsupported
}

// SampleRate returns Rate or DefaultSampleRate.
func (p *Provider) SampleRate() int {
	if p.Rate > 0 {
		return p.Rate
	}
	return DefaultSampleRate
}

// Calls returns a snapshot of every SynthesizeStream call in order.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.synthCalls))
	for i, c := range p.synthCalls {
		out[i] = SynthesizeStreamCall{Voice: c.Voice, Texts: slices.Clone(c.Texts)}
	}
	return out
}

// ListVoicesCalls returns how many times ListVoices was called.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVoiceCalls
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.synthCalls = nil
	p.listVoiceCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
