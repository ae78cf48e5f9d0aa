package conversation

// State is the lifecycle position of the current turn.
type State int

const (
	// StateIdle means no turn has been sent yet.
	StateIdle State = iota

	// StateAwaitingResponse means a user message was sent and no response
	// byte has arrived.
	StateAwaitingResponse

	// StateStreaming means the assistant placeholder is open and receiving
	// tokens.
	StateStreaming

	// StateClosed means the last turn ended, successfully or not. A closed
	// conversation accepts the next send.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// inFlight reports whether a turn is between send and close.
func (s State) inFlight() bool {
	return s == StateAwaitingResponse || s == StateStreaming
}

// UpdateKind names the mutation an Update describes.
type UpdateKind int

const (
	// UpdateAppendMessage means a message was appended at Index.
	UpdateAppendMessage UpdateKind = iota

	// UpdateAppendText means Delta was appended to the message at Index.
	UpdateAppendText

	// UpdateReplaceText means the message at Index now reads Delta.
	UpdateReplaceText

	// UpdateClose means the turn closed; Index is the assistant message.
	UpdateClose
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateAppendMessage:
		return "append_message"
	case UpdateAppendText:
		return "append_text"
	case UpdateReplaceText:
		return "replace_text"
	case UpdateClose:
		return "close"
	default:
		return "unknown"
	}
}

// Update is one observable mutation of a conversation. Renderers apply
// updates in order to mirror the conversation without re-reading it.
type Update struct {
	Kind  UpdateKind
	Index int
	Delta string
	State State
}
