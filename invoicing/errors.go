package invoicing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvoiceNotFound is returned when no invoice row exists for the number.
	ErrInvoiceNotFound = errors.New("invoicing: invoice not found")
	// ErrInvalidState signals the invoice status does not admit the operation.
	ErrInvalidState = errors.New("invoicing: invalid invoice state")
)

func invalidState(number string, actual Status, want Status) error {
	return fmt.Errorf("%w: invoice %s is %s, want %s", ErrInvalidState, number, actual, want)
}
