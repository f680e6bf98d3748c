package http

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"spendlog/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// newFormKey returns the idempotency key embedded in a freshly rendered form.
func newFormKey() string {
	return uuid.NewString()
}

func today() string {
	return time.Now().Format(core.DateLayout)
}
