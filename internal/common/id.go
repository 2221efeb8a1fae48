package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a globally unique, URL-safe job identifier.
func NewJobID() string {
	return uuid.New().String()
}

// NewPageID generates a unique page row identifier.
func NewPageID() string {
	return uuid.New().String()
}
