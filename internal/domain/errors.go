package domain

import (
	"errors"
	"strings"
)

// ErrorKind separates failures by how a caller should react to them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindBusinessRule ErrorKind = "business_rule"
	KindTransient    ErrorKind = "transient"
	KindInvariant    ErrorKind = "invariant"
)

// Error is the typed error returned by every core operation. Two errors are
// considered equal by errors.Is when their codes match, so callers compare
// against the exported sentinels below.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidRequest         = &Error{Kind: KindValidation, Code: "invalid_request"}
	ErrInvalidQuantity        = &Error{Kind: KindValidation, Code: "invalid_quantity"}
	ErrAmountMismatch         = &Error{Kind: KindValidation, Code: "amount_mismatch"}
	ErrInsufficientTender     = &Error{Kind: KindValidation, Code: "insufficient_tender"}
	ErrUnsupportedMethod      = &Error{Kind: KindValidation, Code: "unsupported_payment_method"}
	ErrProductNotFound        = &Error{Kind: KindValidation, Code: "product_not_found"}
	ErrOrderNotFound          = &Error{Kind: KindValidation, Code: "order_not_found"}
	ErrPaymentNotFound        = &Error{Kind: KindValidation, Code: "payment_not_found"}
	ErrReceiptNotFound        = &Error{Kind: KindValidation, Code: "receipt_not_found"}
	ErrReturnNotFound         = &Error{Kind: KindValidation, Code: "return_not_found"}
	ErrInsufficientStock      = &Error{Kind: KindBusinessRule, Code: "insufficient_stock"}
	ErrDiscountNotApplicable  = &Error{Kind: KindBusinessRule, Code: "discount_not_applicable"}
	ErrNoActiveTaxConfig      = &Error{Kind: KindBusinessRule, Code: "no_active_tax_config"}
	ErrInvalidTransition      = &Error{Kind: KindBusinessRule, Code: "invalid_transition"}
	ErrOrderNotPayable        = &Error{Kind: KindBusinessRule, Code: "order_not_payable"}
	ErrPaymentDeclined        = &Error{Kind: KindBusinessRule, Code: "payment_declined"}
	ErrOrderNotPaid           = &Error{Kind: KindBusinessRule, Code: "order_not_paid"}
	ErrReceiptAlreadyExists   = &Error{Kind: KindBusinessRule, Code: "receipt_already_exists"}
	ErrOrderNotReturnable     = &Error{Kind: KindBusinessRule, Code: "order_not_returnable"}
	ErrInvalidReturnQuantity  = &Error{Kind: KindBusinessRule, Code: "invalid_return_quantity"}
	ErrReturnNotPending       = &Error{Kind: KindBusinessRule, Code: "return_not_pending"}
	ErrOrderCreationFailed    = &Error{Kind: KindTransient, Code: "order_creation_failed"}
	ErrTemporarilyUnavailable = &Error{Kind: KindTransient, Code: "temporarily_unavailable"}
	ErrInvariantViolation     = &Error{Kind: KindInvariant, Code: "invariant_violation"}
)

// NewError returns a copy of base carrying a caller-facing message.
func NewError(base *Error, message string) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: message}
}

// WrapError returns a copy of base with message that wraps cause.
func WrapError(base *Error, message string, cause error) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: message, Err: cause}
}

// KindOf classifies err. Errors that did not originate in the core are
// treated as transient infrastructure failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err is one of the not-found validation errors.
func IsNotFound(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return strings.HasSuffix(e.Code, "_not_found")
}
