// Package idgen generates the identifiers attached to pages, snapshots and
// mutation batches. Everything is a UUIDv7 so ids sort by creation time.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id from gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator behind New.
var Default Generator = UUIDv7()

// New returns a fresh id from Default.
func New() string {
	return Default()
}

// Page is the generator for page ids.
var Page = Prefixed("pg_", Default)

// Parse validates a bare UUID and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: parse: %w", err)
	}
	return u.String(), nil
}
