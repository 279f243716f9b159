package types

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR TAXONOMY - semantic kinds drive the recovery policy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Components decide what to do with a failure by its Kind, not by string
// matching:
//   UpstreamUnavailable / UpstreamThrottled / Transient  → backoff, continue
//   ParseError                                           → skip item, continue
//   ValidationError                                      → dead-letter, continue
//   InsufficientFunds / InsufficientTokens               → surface, no retry
//   MarketClosed / MarketResolved                        → cancel triggers, notify
//   NotFound                                             → report, no retry
//   Fatal                                                → supervisor restart
// ═══════════════════════════════════════════════════════════════════════════════

type Kind int

const (
	KindUnknown Kind = iota
	KindUpstreamUnavailable
	KindUpstreamThrottled
	KindParse
	KindValidation
	KindInsufficientFunds
	KindInsufficientTokens
	KindMarketClosed
	KindMarketResolved
	KindNotFound
	KindTransient
	KindFatal
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindUpstreamUnavailable: "UpstreamUnavailable",
	KindUpstreamThrottled:   "UpstreamThrottled",
	KindParse:               "ParseError",
	KindValidation:          "ValidationError",
	KindInsufficientFunds:   "InsufficientFunds",
	KindInsufficientTokens:  "InsufficientTokens",
	KindMarketClosed:        "MarketClosed",
	KindMarketResolved:      "MarketResolved",
	KindNotFound:            "NotFound",
	KindTransient:           "Transient",
	KindFatal:               "Fatal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether errors of this kind may be retried locally.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstreamUnavailable, KindUpstreamThrottled, KindTransient:
		return true
	}
	return false
}

// Error carries a semantic kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "poller.fetch_page"
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on a bare *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kindf builds a new error of the given kind.
func Kindf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the semantic kind from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error chain carries a retryable kind.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
