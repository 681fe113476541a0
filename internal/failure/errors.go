// Package failure defines the error taxonomy shared by the pipeline and the
// classifier that turns failures into operator-facing messages.
package failure

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Kind is the category of a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindWrongOwner
	KindWrongProgramVersion
	KindCorruptFormat
	KindRateLimited
	KindMissingDerivationPath
	KindUnsupportedWalletType
	KindTimeout
	KindSubmissionRejected
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindNotFound:              "not_found",
	KindWrongOwner:            "wrong_owner",
	KindWrongProgramVersion:   "wrong_program_version",
	KindCorruptFormat:         "corrupt_or_incompatible_format",
	KindRateLimited:           "rate_limited",
	KindMissingDerivationPath: "missing_derivation_path",
	KindUnsupportedWalletType: "unsupported_wallet_type",
	KindTimeout:               "timeout",
	KindSubmissionRejected:    "submission_rejected",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether retrying the same call cannot succeed.
func (k Kind) Terminal() bool {
	return k != KindRateLimited && k != KindUnknown
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "multisig.GetMultisig".
	Op  string
	Msg string
	Err error
	// Display is filled in by Classifier.Annotate.
	Display *Classification
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(err error, kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain. Context
// deadline errors are reported as KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DisplayOf returns the classification attached by Annotate, if any.
func DisplayOf(err error) (Classification, bool) {
	var e *Error
	if errors.As(err, &e) && e.Display != nil {
		return *e.Display, true
	}
	return Classification{}, false
}
