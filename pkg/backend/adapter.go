// Package backend implements the Backend Adapters contract (spec.md §4.9):
// a single `call(persona, payload, options) -> {text, usage, latency_ms}`
// operation the core is indifferent to the concrete model family behind.
//
// The Adapter interface and registry are grounded on pkg/agent/llm_client.go
// (a Go-side interface wrapping an external model-serving process) collapsed
// from a streaming-chunk channel to one blocking call, since the Decision
// Machine/Supervisor only ever consume a role's completed text, never
// token-level deltas.
package backend

import (
	"context"
	"time"
)

// Options carries per-call tuning the caller wants the adapter to honor.
// Adapters that don't support a field ignore it.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one call, mirroring the teacher's
// UsageChunk fields collapsed into a single non-streaming result.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the adapter's single-call response shape from spec.md §4.9.
type Result struct {
	Text      string
	Usage     Usage
	LatencyMs int64
}

// Adapter is implemented by every concrete backend (gRPC-backed model
// service, in-process mock, ...). Persona is the opaque text blob spec.md
// §6 describes ("Persona bundles... opaque text blobs keyed by role").
type Adapter interface {
	Call(ctx context.Context, persona string, payload string, opts Options) (*Result, error)
}

// timed runs fn and stamps the latency onto the returned Result, so each
// concrete Adapter only needs to produce Text/Usage.
func timed(fn func() (string, Usage, error)) (*Result, error) {
	start := time.Now()
	text, usage, err := fn()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Usage: usage, LatencyMs: latency}, nil
}
