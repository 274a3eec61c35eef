package gateway

import (
	"livechat/internal/apperr"
)

// Frame types a client may send.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameJoin        = "join"
	FrameLeave       = "leave"
	FrameTypingStart = "typing:start"
	FrameTypingStop  = "typing:stop"
)

// Frame types the server sends besides events.
const (
	FrameAck   = "ack"
	FrameError = "error"
)

// Request is a client frame. ID is echoed back in the reply.
type Request struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Topic  string `json:"topic,omitempty"`
	RoomID string `json:"roomId,omitempty"`
}

// Reply acknowledges or rejects a Request.
type Reply struct {
	ID    string     `json:"id,omitempty"`
	Type  string     `json:"type"`
	For   string     `json:"for,omitempty"`
	Topic string     `json:"topic,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

func ack(req Request) Reply {
	return Reply{ID: req.ID, Type: FrameAck, For: req.Type, Topic: req.Topic}
}

func failure(req Request, err error) Reply {
	return Reply{
		ID:    req.ID,
		Type:  FrameError,
		For:   req.Type,
		Topic: req.Topic,
		Error: &ErrorBody{
			Kind:      apperr.KindOf(err).String(),
			Message:   err.Error(),
			Fields:    apperr.FieldsOf(err),
			Retryable: apperr.IsRetryable(err),
		},
	}
}
