// Package seed loads fixture documents into the document store.
package seed

import "fmt"

// SeedResult tracks counts and errors from a seeding operation.
type SeedResult struct {
	Written map[string]int
	Batches int
	Errors  []string
}

// AddErrorf records a formatted error message.
func (r *SeedResult) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the seed operation.
func (r *SeedResult) Summary() string {
	return fmt.Sprintf(
		"properties=%d users=%d notifications=%d batches=%d errors=%d",
		r.Written["properties"], r.Written["users"], r.Written["notifications"],
		r.Batches, len(r.Errors),
	)
}
