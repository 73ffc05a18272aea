package domain

import "github.com/google/uuid"

// NewLocalID returns a time-ordered identifier for a message created on this client.
func NewLocalID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
