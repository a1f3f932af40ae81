package eventmodels

import (
	"time"

	"github.com/google/uuid"
)

// Response is the envelope wrapping every status/control query answered by
// the core. The shape is fixed; the transport is not part of the core.
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"requestId"`
}

func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: uuid.New().String(),
	}
}

func NewErrorResponse(message string) Response {
	return Response{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: uuid.New().String(),
	}
}
