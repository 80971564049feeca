package adapter

import (
	"context"
	"time"
)

// ConvertRequest describes one external-converter invocation. The conversion
// pool owns the scratch directory and input/output file lifecycle; the
// converter only runs the process.
type ConvertRequest struct {
	// WorkDir is an isolated scratch directory, removed by the pool on every
	// exit path.
	WorkDir string
	// InputPath is the merged artifact written into WorkDir.
	InputPath string
	// TargetFormat is the requested output format, e.g. "pdf".
	TargetFormat string
	Timeout      time.Duration
}

// Converter wraps the external document-conversion process behind an explicit
// interface so the pool's concurrency and cleanup logic can be exercised
// against a fake.
type Converter interface {
	// Convert runs the conversion and returns the path of the produced file
	// inside req.WorkDir. The process must be terminated when ctx expires.
	Convert(ctx context.Context, req ConvertRequest) (string, error)
}
