// Package uuid generates request ids for backend calls.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 request ids. It implements ajax.IDGenerator.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. Version 7 ids sort by creation time, which keeps backend
// logs for one session in order.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
