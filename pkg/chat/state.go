package chat

// State is the orchestrator's position in the turn lifecycle.
type State int

const (
	Idle State = iota
	AwaitingUserInput
	UserMessageRecorded
	StreamingResponse
	ResponseRecorded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingUserInput:
		return "awaiting_user_input"
	case UserMessageRecorded:
		return "user_message_recorded"
	case StreamingResponse:
		return "streaming_response"
	case ResponseRecorded:
		return "response_recorded"
	default:
		return "unknown"
	}
}
