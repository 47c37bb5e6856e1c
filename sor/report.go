package sor

import "go.uber.org/zap"

// Reporter receives human-readable convergence diagnostics. The solver
// produces residual values and iteration counts; formatting beyond that is
// the sink's business.
type Reporter interface {
	Printf(format string, args ...any)
}

// Discard swallows all diagnostics.
type Discard struct{}

// Printf does nothing.
func (Discard) Printf(string, ...any) {}

// zapReporter emits diagnostics through a zap logger from rank 0 only, so
// a distributed run produces a single stream.
type zapReporter struct {
	log  *zap.SugaredLogger
	rank int
}

// NewZapReporter wraps a zap logger as a rank-0-only reporter.
func NewZapReporter(log *zap.Logger, rank int) Reporter {
	return &zapReporter{log: log.Sugar(), rank: rank}
}

// Printf logs at info level on rank 0 and is a no-op elsewhere.
func (r *zapReporter) Printf(format string, args ...any) {
	if r.rank != 0 {
		return
	}
	r.log.Infof(format, args...)
}
