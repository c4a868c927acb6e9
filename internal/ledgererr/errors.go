// Package ledgererr defines the tagged error kinds every ledger command
// can fail with. Callers switch on Kind rather than matching strings.
package ledgererr

import "fmt"

// Kind tags the class of precondition a command violated.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorizationDenied
	KindEntityMissing
	KindEntityInactive
	KindOperatorNotApproved
	KindAllowanceExceeded
	KindInsufficientFunds
	KindInsufficientLockup
	KindLockupNotSettled
	KindDebtBlocked
	KindTerminatedRailRestriction
	KindArbiterContractViolation
	KindArithmetic
	KindConcurrentModification
	KindInvariantBroken
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationDenied:
		return "AuthorizationDenied"
	case KindEntityMissing:
		return "EntityMissing"
	case KindEntityInactive:
		return "EntityInactive"
	case KindOperatorNotApproved:
		return "OperatorNotApproved"
	case KindAllowanceExceeded:
		return "AllowanceExceeded"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindInsufficientLockup:
		return "InsufficientLockup"
	case KindLockupNotSettled:
		return "LockupNotSettled"
	case KindDebtBlocked:
		return "DebtBlocked"
	case KindTerminatedRailRestriction:
		return "TerminatedRailRestriction"
	case KindArbiterContractViolation:
		return "ArbiterContractViolation"
	case KindArithmetic:
		return "Arithmetic"
	case KindConcurrentModification:
		return "ConcurrentModification"
	case KindInvariantBroken:
		return "InvariantBroken"
	default:
		return "Unknown"
	}
}

// Error is a tagged ledger error. It wraps an underlying cause where one
// exists so %w-based unwrapping still works.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a tagged error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	le, ok := err.(*Error)
	return ok && le.Kind == kind
}

// KindOf returns err's Kind, or KindUnknown if err is not a *Error.
func KindOf(err error) Kind {
	if le, ok := err.(*Error); ok {
		return le.Kind
	}
	return KindUnknown
}
