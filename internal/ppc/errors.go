package ppc

import "errors"

// Sentinel errors participating in Decode and analyzer diagnostics. Callers
// compare with errors.Is; AnalysisError additionally aggregates Diagnostics
// for batch reporting (spec.md §7).
var (
	ErrUnknownOpcode       = errors.New("ppc: unknown or reserved opcode")
	ErrOverlappingFunction = errors.New("ppc: overlapping user-declared function")
	ErrMalformedJumpTable  = errors.New("ppc: malformed jump table")
	ErrOversizeFunction    = errors.New("ppc: function exceeds large-function threshold")
	ErrUnresolvedBranch    = errors.New("ppc: unresolved indirect branch target")
)

// DiagnosticKind classifies an analyzer Diagnostic for programmatic
// filtering; the message remains the human-readable detail.
type DiagnosticKind int

const (
	DiagUnknownOpcode DiagnosticKind = iota
	DiagOverlappingFunction
	DiagMalformedJumpTable
	DiagOversizeFunction
	DiagUnresolvedBranch
)

// Diagnostic is one analyzer-reported problem, anchored at a guest address.
type Diagnostic struct {
	Kind DiagnosticKind
	Addr uint32
	Err  error
}

func (d Diagnostic) Error() string {
	return d.Err.Error()
}

// AnalysisError aggregates every Diagnostic produced by a Load call.
// Load returns one of these (rather than the first error encountered) so
// every problem in the image can be reported in a single pass, matching
// spec.md §7's "collected and reported together" requirement.
type AnalysisError struct {
	Diagnostics []Diagnostic
}

func (e *AnalysisError) Error() string {
	if len(e.Diagnostics) == 1 {
		return e.Diagnostics[0].Error()
	}
	return errors.Join(diagErrors(e.Diagnostics)...).Error()
}

func diagErrors(ds []Diagnostic) []error {
	out := make([]error, len(ds))
	for i, d := range ds {
		out[i] = d
	}
	return out
}

// Unwrap lets errors.Is/errors.As reach into the joined diagnostics.
func (e *AnalysisError) Unwrap() []error {
	return diagErrors(e.Diagnostics)
}
