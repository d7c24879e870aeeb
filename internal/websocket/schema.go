package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionNavigate  Action = "navigate"
	ActionHeartbeat Action = "heartbeat"
	ActionSignal    Action = "signal"
	ActionPing      Action = "ping"
)

// RequestPayload is the single inbound message shape. Fields beyond
// Action are read per action.
type RequestPayload struct {
	Action Action `json:"action"`

	// answer
	QID      string   `json:"q_id,omitempty"`
	Selected []string `json:"selected,omitempty"`

	// navigate
	Index int `json:"index,omitempty"`

	// signal
	Signal      string `json:"signal,omitempty"`
	NetworkInfo string `json:"network_info,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventState Event = "state"
	EventPong  Event = "pong"
)

// StateResponse carries the session state back after a mutation.
type StateResponse struct {
	Event                Event  `json:"event"`
	Status               string `json:"status"`
	TimeRemaining        int    `json:"time_remaining"`
	CurrentQuestionIndex int    `json:"current_question_index"`
	AnsweredCount        int    `json:"answered_count"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
