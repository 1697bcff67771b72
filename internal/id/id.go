// Package id provides unique identifier generation for stored audio items.
package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique ID with the given prefix.
// Format: <prefix>-<unix millis>-<random>
// Example: rec-1701432000123-a1b2c3d4
func Generate(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), random)
}
