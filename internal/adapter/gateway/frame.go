package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
	// FrameTypeChunk carries one piece of a streamed reply. ID matches the
	// request it belongs to; the final response follows the last chunk.
	FrameTypeChunk FrameType = "chunk"
)

// Frame is the envelope exchanged between client and server over WebSocket.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`     // request/response correlation ID
	Method  string          `json:"method,omitempty"` // RPC method name (request and chunk)
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"` // error description (response only)
	Code    string          `json:"code,omitempty"`  // machine-readable error code (response only)
}
