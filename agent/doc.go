// Package agent provides the conversation engine of shellmind.
//
// An Agent turns natural-language requests into shell commands, or, in agent
// mode, into a bounded loop of model reasoning and tool calls. The engine is
// an explicit state machine advanced by Step:
//
//	AwaitingInput -> Synthesizing -> Confirming   -> Executing -> AwaitingInput
//	                              -> Executing    -> AwaitingInput
//	                              -> Clarifying   -> AwaitingInput
//	                              -> ToolDispatch -> AwaitingInput -> Synthesizing
//	any state -> Terminated
//
// Submit, Explain and Run are drivers that call Step until the machine needs
// input again or terminates.
//
// # Steps and termination
//
// Every model call that yields something other than a clarification consumes
// one step of the session budget. The budget is checked before the call, so
// the step count never exceeds the maximum. The session terminates when the
// budget is spent, when the user exits, when the context is cancelled or when
// the gateway reports a fatal error. Transient gateway errors are retried with
// exponential backoff first. The next Submit after termination starts a new
// session.
//
// # Tool rounds
//
// In agent mode a reply may request several tools at once. The round runs
// concurrently with a bounded number of workers, and every call receives
// exactly one result, appended in call order, before the model is asked
// again. Shell commands requested by the model go through the same safety
// classification and confirmation as commands proposed directly.
//
// # Callbacks
//
// ProcessCallbacks lets the interaction layer render events and answer
// confirmation prompts. The terminal subpackage implements them for an
// interactive shell session.
package agent
