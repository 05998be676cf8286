package signaling

import "encoding/json"

// Frame types on the signaling socket.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Frame is the envelope for every websocket message. Type discriminates
// between client requests, server responses and server-pushed events.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event EventName `json:"event,omitempty"`
	Seq   int64     `json:"seq,omitempty"`

	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response frame.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResponse builds a success response for request id.
func NewResponse(id string, payload any) (Frame, error) {
	ok := true
	f := Frame{Type: FrameTypeResponse, ID: id, OK: &ok}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = b
	}
	return f, nil
}

// NewErrorResponse builds a failed response for request id.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}
