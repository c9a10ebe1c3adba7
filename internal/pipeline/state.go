package pipeline

// State is a step of a pipeline run.
type State string

const (
	StateReceived     State = "received"
	StateStored       State = "stored"
	StateTranscribing State = "transcribing"
	StateTranscribed  State = "transcribed"
	StateSummarizing  State = "summarizing"
	StateSummarized   State = "summarized"
	StateRendered     State = "rendered"
	StateFailed       State = "failed"
)

var successor = map[State]State{
	StateReceived:     StateStored,
	StateStored:       StateTranscribing,
	StateTranscribing: StateTranscribed,
	StateTranscribed:  StateSummarizing,
	StateSummarizing:  StateSummarized,
	StateSummarized:   StateRendered,
}

// CanTransition reports whether a run may move from one state to another.
// Any non-terminal state may fail.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return successor[from] == to
}

// Terminal reports whether a run in s has finished.
func (s State) Terminal() bool {
	return s == StateRendered || s == StateFailed
}
