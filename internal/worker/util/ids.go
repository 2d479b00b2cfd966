package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix_<32 hex chars>. IDs double as workspace directory
// names, so they never contain separators.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
