// Package clockid provides the harness's monotonic time source and
// opaque identifier generator.
package clockid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so tests can inject deterministic
// timestamps without touching the system clock.
type Clock interface {
	Now() time.Time
}

// System is the default Clock backed by time.Now.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// Frozen is a Clock that always returns the same instant, for tests.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Frozen) Now() time.Time { return f.At }

// NewRunID returns an opaque 16-byte hex run identifier (spec §6).
func NewRunID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a UUID so callers never observe an error from ID generation.
		return uuid.New().String()
	}
	return hex.EncodeToString(b[:])
}

// NewObjectID returns an opaque identifier for internal objects
// (batches, subscriptions, evaluation jobs) that don't need the
// run-id's specific 16-byte-hex shape.
func NewObjectID() string {
	return uuid.New().String()
}

// ArtifactID derives the `<model-slug>-<variant>-YYYYMMDD_HHMMSS`
// identifier described in spec §6, using the given clock for the
// timestamp component so callers can produce deterministic ids in
// tests.
func ArtifactID(clock Clock, modelSlug, variant string) string {
	ts := clock.Now().Format("20060102_150405")
	return fmt.Sprintf("%s-%s-%s", modelSlug, variant, ts)
}
