package render

import "fmt"

// Stage names one step of the render pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageLookupCache      Stage = "LOOKUP_CACHE"
	StageLoadEffects      Stage = "LOAD_EFFECTS"
	StageLoadOrInitPhrase Stage = "LOAD_OR_INIT_PHRASE"
	StageSynthesize       Stage = "SYNTHESIZE"
	StageApplyEffects     Stage = "APPLY_EFFECTS"
	StageTranscode        Stage = "TRANSCODE"
	StageCommit           Stage = "COMMIT"
)

// StageError is returned by [Pipeline.Render] for every failure. It records
// where the render stopped and for which line.
type StageError struct {
	Stage     Stage
	Character string
	Message   string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("render: %s: character %q: message %q: %v", e.Stage, e.Character, e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
