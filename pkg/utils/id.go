package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random entity identifier
func GenerateID() string {
	return uuid.NewString()
}

// GenerateShortID generates a compact identifier for log correlation
func GenerateShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
