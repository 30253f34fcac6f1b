package chessdto

// DomainError is the wire shape of every error sent to a client.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}

// Error codes shared by the socket and REST surfaces.
const (
	CodeBadRequest         = "bad_request"
	CodeUnknownEvent       = "unknown_event"
	CodeUnknownTimeControl = "unknown_time_control"
	CodeRoomNotFound       = "room_not_found"
	CodeNotAPlayer         = "not_a_player"
	CodeAlreadySettled     = "already_settled"
	CodeNotCancellable     = "not_cancellable"
	CodeAlreadyQueued      = "already_queued"
	CodeRoomFull           = "room_full"
	CodePersistence        = "persistence_failure"
	CodeCapacity           = "capacity_exceeded"
	CodeInternal           = "internal"
)
