package attendance

import (
	"strings"

	"github.com/google/uuid"
)

// NewSessionCode returns a short shareable code for a session: the first 8
// characters of a UUID, uppercased.
func NewSessionCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
