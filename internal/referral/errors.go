package referral

import "fmt"

// ErrorCode is a stable machine identifier surfaced to clients alongside a
// user-displayable message.
type ErrorCode string

const (
	CodeInvalidCode    ErrorCode = "InvalidCode"
	CodeLegFull        ErrorCode = "LegFull"
	CodeAlreadyPlaced  ErrorCode = "AlreadyPlaced"
	CodeSelfReferral   ErrorCode = "SelfReferral"
	CodeMemberNotFound ErrorCode = "MemberNotFound"
)

// Error is a business-rule violation on the placement path. These reflect
// invalid requests rather than transient faults and are never retried.
type Error struct {
	Code    ErrorCode
	Message string

	// LegFull detail: which leg was attempted, how many children it holds,
	// and the sibling leg's code to surface to the user.
	Position      Position
	CurrentCount  int
	SuggestedCode string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errInvalidCode(code string) *Error {
	return &Error{
		Code:    CodeInvalidCode,
		Message: fmt.Sprintf("Referral code %q does not match any member", code),
	}
}

func errLegFull(position Position, currentCount int, suggestedCode string) *Error {
	return &Error{
		Code:          CodeLegFull,
		Message:       fmt.Sprintf("The %s leg already holds %d of %d members. Use the other leg's code instead.", position, currentCount, LegCapacity),
		Position:      position,
		CurrentCount:  currentCount,
		SuggestedCode: suggestedCode,
	}
}
