package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository is the Postgres-backed invoicing gateway. Every method runs
// inside the caller's transaction so invoice writes commit or abort together
// with the originating unit of work.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Create validates the spec and inserts the invoice in ISSUED state.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, spec Spec) (Invoice, error) {
	if spec.Number == "" {
		return Invoice{}, fmt.Errorf("invoicing: missing invoice number")
	}
	if spec.ExternalID == "" {
		return Invoice{}, fmt.Errorf("invoicing: missing external id")
	}
	if spec.ConsumerName == "" || spec.ConsumerEmail == "" {
		return Invoice{}, fmt.Errorf("invoicing: consumer name and email required")
	}
	if spec.Currency == "" {
		return Invoice{}, fmt.Errorf("invoicing: currency required")
	}
	if spec.ItemName == "" {
		return Invoice{}, fmt.Errorf("invoicing: item name required")
	}
	if spec.ItemQuantity <= 0 {
		return Invoice{}, fmt.Errorf("invoicing: item quantity must be positive")
	}
	if spec.ItemAmount <= 0 {
		return Invoice{}, fmt.Errorf("invoicing: item amount must be positive")
	}

	const insertSQL = `
INSERT INTO invoices (number, status, external_id, consumer_name, consumer_email,
                      consumer_phone, consumer_taxpayer_number, consumer_language,
                      currency, item_name, item_quantity, item_amount)
VALUES ($1, 'ISSUED', $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING number, status, external_id, consumer_name, consumer_email, consumer_phone,
          consumer_taxpayer_number, consumer_language, currency, item_name,
          item_quantity, item_amount, paid_instant, paid_reference, paid_amount,
          paid_payer_name, cancel_reason, created_at, updated_at
`
	inv, err := scanInvoice(tx.QueryRow(ctx, insertSQL,
		spec.Number,
		spec.ExternalID,
		spec.ConsumerName,
		spec.ConsumerEmail,
		spec.ConsumerPhone,
		spec.ConsumerTaxpayerNumber,
		spec.ConsumerLanguage,
		spec.Currency,
		spec.ItemName,
		spec.ItemQuantity,
		spec.ItemAmount,
	))
	if err != nil {
		return Invoice{}, fmt.Errorf("invoicing: insert invoice: %w", err)
	}
	return inv, nil
}

// MarkPaid moves an ISSUED invoice to PAID at the given instant.
func (r *Repository) MarkPaid(ctx context.Context, tx pgx.Tx, number string, instant time.Time) error {
	if number == "" {
		return fmt.Errorf("invoicing: missing invoice number")
	}
	status, err := lockStatus(ctx, tx, number)
	if err != nil {
		return err
	}
	if status != StatusIssued {
		return invalidState(number, status, StatusIssued)
	}

	if _, err := tx.Exec(ctx, `
UPDATE invoices
SET status = 'PAID',
    paid_instant = $2,
    updated_at = now()
WHERE number = $1
`, number, instant); err != nil {
		return fmt.Errorf("invoicing: mark paid: %w", err)
	}
	return nil
}

// Expire moves an ISSUED invoice to EXPIRED so it can no longer be paid.
func (r *Repository) Expire(ctx context.Context, tx pgx.Tx, number string) error {
	if number == "" {
		return fmt.Errorf("invoicing: missing invoice number")
	}
	status, err := lockStatus(ctx, tx, number)
	if err != nil {
		return err
	}
	if status != StatusIssued {
		return invalidState(number, status, StatusIssued)
	}

	if _, err := tx.Exec(ctx, `
UPDATE invoices SET status = 'EXPIRED', updated_at = now() WHERE number = $1
`, number); err != nil {
		return fmt.Errorf("invoicing: expire: %w", err)
	}
	return nil
}

// CancelWithReason voids a PAID invoice, recording the human-readable reason.
func (r *Repository) CancelWithReason(ctx context.Context, tx pgx.Tx, number, reason string) error {
	if number == "" {
		return fmt.Errorf("invoicing: missing invoice number")
	}
	if reason == "" {
		return fmt.Errorf("invoicing: missing cancellation reason")
	}
	status, err := lockStatus(ctx, tx, number)
	if err != nil {
		return err
	}
	if status != StatusPaid {
		return invalidState(number, status, StatusPaid)
	}

	if _, err := tx.Exec(ctx, `
UPDATE invoices
SET status = 'CANCELED',
    cancel_reason = $2,
    updated_at = now()
WHERE number = $1
`, number, reason); err != nil {
		return fmt.Errorf("invoicing: cancel: %w", err)
	}
	return nil
}

// ReconcileUnknownPayment attributes an externally observed payment to an
// ISSUED invoice, recording the payment facts alongside the PAID status.
func (r *Repository) ReconcileUnknownPayment(ctx context.Context, tx pgx.Tx, number string, amount float64, currency string, instant time.Time, reference, payerName string) error {
	if number == "" {
		return fmt.Errorf("invoicing: missing invoice number")
	}
	if amount <= 0 {
		return fmt.Errorf("invoicing: amount must be positive")
	}
	if currency == "" {
		return fmt.Errorf("invoicing: currency required")
	}
	status, err := lockStatus(ctx, tx, number)
	if err != nil {
		return err
	}
	if status != StatusIssued {
		return invalidState(number, status, StatusIssued)
	}

	if _, err := tx.Exec(ctx, `
UPDATE invoices
SET status = 'PAID',
    paid_instant = $2,
    paid_amount = $3,
    paid_reference = $4,
    paid_payer_name = $5,
    updated_at = now()
WHERE number = $1
`, number, instant, amount, reference, payerName); err != nil {
		return fmt.Errorf("invoicing: reconcile payment: %w", err)
	}
	return nil
}

// GetByNumber loads a single invoice outside any transition.
func (r *Repository) GetByNumber(ctx context.Context, q querier, number string) (Invoice, error) {
	if number == "" {
		return Invoice{}, fmt.Errorf("invoicing: missing invoice number")
	}
	const q1 = `
SELECT number, status, external_id, consumer_name, consumer_email, consumer_phone,
       consumer_taxpayer_number, consumer_language, currency, item_name,
       item_quantity, item_amount, paid_instant, paid_reference, paid_amount,
       paid_payer_name, cancel_reason, created_at, updated_at
FROM invoices
WHERE number = $1
`
	inv, err := scanInvoice(q.QueryRow(ctx, q1, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, fmt.Errorf("invoicing: get by number: %w", err)
	}
	return inv, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lockStatus(ctx context.Context, tx pgx.Tx, number string) (Status, error) {
	var status Status
	err := tx.QueryRow(ctx, `SELECT status FROM invoices WHERE number = $1 FOR UPDATE`, number).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvoiceNotFound
		}
		return "", fmt.Errorf("invoicing: lock invoice: %w", err)
	}
	return status, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	if err := row.Scan(
		&inv.Number,
		&inv.Status,
		&inv.ExternalID,
		&inv.ConsumerName,
		&inv.ConsumerEmail,
		&inv.ConsumerPhone,
		&inv.ConsumerTaxpayerNumber,
		&inv.ConsumerLanguage,
		&inv.Currency,
		&inv.ItemName,
		&inv.ItemQuantity,
		&inv.ItemAmount,
		&inv.PaidInstant,
		&inv.PaidReference,
		&inv.PaidAmount,
		&inv.PaidPayerName,
		&inv.CancelReason,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}
