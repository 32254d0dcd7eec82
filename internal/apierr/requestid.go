package apierr

import "github.com/google/uuid"

// NewRequestID returns a fresh opaque correlation ID for one inbound request.
func NewRequestID() string {
	return uuid.NewString()
}
