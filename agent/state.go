package agent

// State is a node of the conversation state machine.
type State int

const (
	AwaitingInput State = iota
	Synthesizing
	Confirming
	Clarifying
	Executing
	ToolDispatch
	Terminated
)

var stateNames = [...]string{
	AwaitingInput: "awaiting_input",
	Synthesizing:  "synthesizing",
	Confirming:    "confirming",
	Clarifying:    "clarifying",
	Executing:     "executing",
	ToolDispatch:  "tool_dispatch",
	Terminated:    "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
