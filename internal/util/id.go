package util

import "github.com/google/uuid"

// NewID returns a collision-resistant identifier for rows and requests.
func NewID() string {
	return uuid.New().String()
}
