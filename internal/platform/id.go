package platform

import "github.com/google/uuid"

// NewID returns a fresh UUID string, the identifier format for every
// registry row.
func NewID() string {
	return uuid.New().String()
}
