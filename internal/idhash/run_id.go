// Package idhash generates and validates run identifiers.
package idhash

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// RunIDPrefix marks walk-forward run identifiers.
const RunIDPrefix = "wf_"

// NewRunID returns "wf_" followed by the base58 encoding of a random UUID.
// The result is at most 25 characters and URL-safe.
func NewRunID() string {
	id := uuid.New()
	return RunIDPrefix + base58.Encode(id[:])
}

// ValidRunID reports whether s was produced by NewRunID.
func ValidRunID(s string) bool {
	rest, ok := strings.CutPrefix(s, RunIDPrefix)
	if !ok || rest == "" {
		return false
	}
	raw, err := base58.Decode(rest)
	if err != nil {
		return false
	}
	_, err = uuid.FromBytes(raw)
	return err == nil
}
