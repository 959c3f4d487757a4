package pgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The rest of Store's methods issue real SQL against a *database.DB and are
// exercised by integration tests against a live postgres instance, not unit
// tests here; these two helpers are pure and worth covering directly.

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}

func TestFirstNonZero(t *testing.T) {
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fallback, firstNonZero(time.Time{}, fallback))

	explicit := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, explicit, firstNonZero(explicit, fallback))
}
