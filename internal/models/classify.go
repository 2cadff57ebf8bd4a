package models

import "strings"

// FailureClass determines how a failure signature is fed to the loop
// detector.
type FailureClass int

const (
	// FailureInternal is the default class: the signature is recorded in
	// the detector window as-is.
	FailureInternal FailureClass = iota
	// FailureExternal covers infrastructure flakiness (timeouts,
	// connectivity, upstream-service errors). External failures are never
	// forwarded to the detector so that a flaky dependency cannot look
	// like a behavioral loop.
	FailureExternal
	// FailureDegrading marks a signature that differs from the
	// immediately preceding one. Varying symptoms suggest the agent is
	// still exploring rather than stuck, so the detector window is reset.
	FailureDegrading
)

// String returns the class name for logs.
func (c FailureClass) String() string {
	switch c {
	case FailureExternal:
		return "external"
	case FailureDegrading:
		return "degrading"
	default:
		return "internal"
	}
}

// Keyword sets identifying external failures. Matching is substring-based
// over the lowercased signature, in the same spirit as the retry-worthy
// error detection used for agent output.
var externalFailureKeywords = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"network",
	"dns",
	"unreachable",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
}

// ClassifyFailure classifies a failure signature before it reaches the
// loop detector. previous is the most recent earlier signature for the
// same task ("" when this is the first failure).
func ClassifyFailure(signature, previous string) FailureClass {
	lower := strings.ToLower(signature)
	for _, kw := range externalFailureKeywords {
		if strings.Contains(lower, kw) {
			return FailureExternal
		}
	}
	if previous != "" && signature != previous {
		return FailureDegrading
	}
	return FailureInternal
}
