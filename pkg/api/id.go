package api

import (
	"regexp"

	"github.com/google/uuid"
)

const (
	requestIDPrefix = "exec_"
	callIDPrefix    = "call_"
	chatIDPrefix    = "chat_"
)

var requestIDPattern = regexp.MustCompile(`^exec_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// NewRequestID generates an execution request ID with the "exec_" prefix.
func NewRequestID() string {
	return requestIDPrefix + uuid.NewString()
}

// NewCallID generates a tool call ID with the "call_" prefix for vendors
// that do not supply their own.
func NewCallID() string {
	return callIDPrefix + uuid.NewString()
}

// NewChatID generates a chat session ID with the "chat_" prefix.
func NewChatID() string {
	return chatIDPrefix + uuid.NewString()
}

// ValidateRequestID checks whether id was produced by NewRequestID.
func ValidateRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}
