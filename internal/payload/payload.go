// Package payload supplies the opaque transaction bodies submitted to the
// relayer, either read from a directory of pre-materialized files or
// produced on demand.
package payload

import (
	"context"
	"fmt"
)

// Payload is one unit of work. Body is opaque JSON; ID traces the payload
// back to its origin (file name or generated correlation value).
type Payload struct {
	ID   string
	Body []byte
}

// Source yields payloads in order. Next returns io.EOF once exhausted.
type Source interface {
	Next(ctx context.Context) (Payload, error)
}

// Producer creates a fresh payload on demand.
type Producer interface {
	Produce(ctx context.Context) (Payload, error)
}

// ReadError reports a payload file that could not be read or is not JSON.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read payload %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ProductionError reports a producer that failed to create a payload.
type ProductionError struct {
	Err error
}

func (e *ProductionError) Error() string {
	return fmt.Sprintf("produce payload: %v", e.Err)
}

func (e *ProductionError) Unwrap() error { return e.Err }
