package protocol

import "encoding/json"

// Represents the kind of a sync message
type MessageType string

const (
	// Client requests membership in an existing room
	TypeJoin MessageType = "join"

	// Client commits a stroke; relayed to every other member
	TypeStrokeDraw MessageType = "strokeDraw"

	// Client retracts its own most recent stroke
	TypeUndo MessageType = "undo"

	// Client reports a pointer position; relayed, never stored
	TypeCursor MessageType = "cursor"

	// Server sends the full authoritative stroke log
	TypeRedraw MessageType = "redraw"

	// Server sends the current roster after a membership change
	TypeUserUpdate MessageType = "userUpdate"

	// Server reports a client-visible failure
	TypeError MessageType = "error"
)

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Drawing tools understood by the server
const (
	ToolBrush  = "brush"
	ToolEraser = "eraser"
)

type JoinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// StrokeInput is the client-side shape of a strokeDraw payload. The stroke id
// is optional; the server synthesizes one when it is missing.
type StrokeInput struct {
	StrokeID string  `json:"strokeId,omitempty"`
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	X2       float64 `json:"x2"`
	Y2       float64 `json:"y2"`
	Tool     string  `json:"tool"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
}

type CursorInput struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorUpdate is the relayed form of a cursor message, tagged with the
// sender's identity so peers can label the pointer.
type CursorUpdate struct {
	UserID string  `json:"userId"`
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// Encode wraps a payload in an Envelope and marshals the frame.
func Encode(t MessageType, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: t, Data: raw})
}

// Decode parses a wire frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}

// ErrorFrame builds an encoded error message for a client.
func ErrorFrame(message string) []byte {
	frame, _ := Encode(TypeError, ErrorMessage{Message: message})
	return frame
}
