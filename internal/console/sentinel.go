package console

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewSentinel returns a completion token with a random hex suffix, so a
// collision with the driven command's own output is negligible.
func NewSentinel() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("__EXIT_%s__", hex[:8])
}
