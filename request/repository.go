package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const requestColumns = `
id, product, type, status, progress, agreement_number, cancellation_reason,
requester_name, requester_email, requester_phone, requester_language,
payment_status, payment_method, payment_amount, payment_currency, payment_card,
payment_card_bank, payment_reference, payment_instant, payment_payer_name,
invoice_number, invoice_payee_name, invoice_payee_email, invoice_payee_phone,
invoice_payee_taxpayer_number, invoice_product_name, invoice_quantity,
invoice_amount, invoice_currency, invoice_language,
policy_details, casco_details, note, completed, completed_by, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL. All writes return
// the fully materialized row so callers always hold the persisted form.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// GetForUpdate loads the request row and locks it for the remainder of the
// transaction. Concurrent operations on the same request serialize here.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (InsuranceRequest, error) {
	if id == "" {
		return InsuranceRequest{}, badArg("id", "required")
	}
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM insurance_requests WHERE id = $1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InsuranceRequest{}, ErrRequestNotFound
		}
		return InsuranceRequest{}, fmt.Errorf("request: load for update: %w", err)
	}
	return req, nil
}

// Get loads the request row without locking.
func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id string) (InsuranceRequest, error) {
	if id == "" {
		return InsuranceRequest{}, badArg("id", "required")
	}
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM insurance_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InsuranceRequest{}, ErrRequestNotFound
		}
		return InsuranceRequest{}, fmt.Errorf("request: load: %w", err)
	}
	return req, nil
}

// Insert persists a new request and returns it with the generated id.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, req InsuranceRequest) (InsuranceRequest, error) {
	policyJSON, cascoJSON, err := detailsJSON(req)
	if err != nil {
		return InsuranceRequest{}, err
	}

	const insertSQL = `
INSERT INTO insurance_requests (
    product, type, status, progress, agreement_number, cancellation_reason,
    requester_name, requester_email, requester_phone, requester_language,
    payment_status, payment_method, payment_amount, payment_currency, payment_card,
    payment_card_bank, payment_reference, payment_instant, payment_payer_name,
    invoice_number, invoice_payee_name, invoice_payee_email, invoice_payee_phone,
    invoice_payee_taxpayer_number, invoice_product_name, invoice_quantity,
    invoice_amount, invoice_currency, invoice_language,
    policy_details, casco_details, note, completed, completed_by, created_at
) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
    $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35
)
RETURNING ` + requestColumns
	row := tx.QueryRow(ctx, insertSQL, writeArgs(req, policyJSON, cascoJSON)...)
	saved, err := scanRequest(row)
	if err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: insert: %w", err)
	}
	return saved, nil
}

// Update rewrites the mutable columns of an existing request.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, req InsuranceRequest) (InsuranceRequest, error) {
	if req.ID == "" {
		return InsuranceRequest{}, badArg("id", "required")
	}
	policyJSON, cascoJSON, err := detailsJSON(req)
	if err != nil {
		return InsuranceRequest{}, err
	}

	const updateSQL = `
UPDATE insurance_requests SET
    product = $1, type = $2, status = $3, progress = $4, agreement_number = $5,
    cancellation_reason = $6, requester_name = $7, requester_email = $8,
    requester_phone = $9, requester_language = $10, payment_status = $11,
    payment_method = $12, payment_amount = $13, payment_currency = $14,
    payment_card = $15, payment_card_bank = $16, payment_reference = $17,
    payment_instant = $18, payment_payer_name = $19, invoice_number = $20,
    invoice_payee_name = $21, invoice_payee_email = $22, invoice_payee_phone = $23,
    invoice_payee_taxpayer_number = $24, invoice_product_name = $25,
    invoice_quantity = $26, invoice_amount = $27, invoice_currency = $28,
    invoice_language = $29, policy_details = $30, casco_details = $31,
    note = $32, completed = $33, completed_by = $34,
    updated_at = now()
WHERE id = $35
RETURNING ` + requestColumns
	args := writeArgs(req, policyJSON, cascoJSON)
	// writeArgs ends with created_at, which Update does not touch; replace it
	// with the id selector.
	args[len(args)-1] = req.ID
	row := tx.QueryRow(ctx, updateSQL, args...)
	saved, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InsuranceRequest{}, ErrRequestNotFound
		}
		return InsuranceRequest{}, fmt.Errorf("request: update: %w", err)
	}
	return saved, nil
}

func detailsJSON(req InsuranceRequest) ([]byte, []byte, error) {
	var policyJSON, cascoJSON []byte
	if req.Policy != nil {
		b, err := json.Marshal(req.Policy)
		if err != nil {
			return nil, nil, fmt.Errorf("request: marshal policy details: %w", err)
		}
		policyJSON = b
	}
	if req.Casco != nil {
		b, err := json.Marshal(req.Casco)
		if err != nil {
			return nil, nil, fmt.Errorf("request: marshal casco details: %w", err)
		}
		cascoJSON = b
	}
	return policyJSON, cascoJSON, nil
}

func writeArgs(req InsuranceRequest, policyJSON, cascoJSON []byte) []any {
	return []any{
		req.Product,
		req.Type,
		req.Status,
		req.Progress,
		req.AgreementNumber,
		req.CancellationReason,
		req.Requester.Name,
		req.Requester.Email,
		req.Requester.Phone,
		req.Requester.Language,
		req.Payment.Status,
		req.Payment.MethodName,
		req.Payment.Amount,
		req.Payment.Currency,
		req.Payment.Card,
		req.Payment.CardBank,
		req.Payment.Reference,
		req.Payment.Instant,
		req.Payment.PayerName,
		req.Payment.InvoiceNumber,
		req.Payment.InvoicePayeeName,
		req.Payment.InvoicePayeeEmail,
		req.Payment.InvoicePayeePhone,
		req.Payment.InvoicePayeeTaxpayerNumber,
		req.Payment.InvoiceProductName,
		req.Payment.InvoiceQuantity,
		req.Payment.InvoiceAmount,
		req.Payment.InvoiceCurrency,
		req.Payment.InvoiceLanguage,
		policyJSON,
		cascoJSON,
		req.Note,
		req.Completed,
		req.CompletedBy,
		req.CreatedAt,
	}
}

func scanRequest(row pgx.Row) (InsuranceRequest, error) {
	var (
		req        InsuranceRequest
		policyJSON []byte
		cascoJSON  []byte
	)
	if err := row.Scan(
		&req.ID,
		&req.Product,
		&req.Type,
		&req.Status,
		&req.Progress,
		&req.AgreementNumber,
		&req.CancellationReason,
		&req.Requester.Name,
		&req.Requester.Email,
		&req.Requester.Phone,
		&req.Requester.Language,
		&req.Payment.Status,
		&req.Payment.MethodName,
		&req.Payment.Amount,
		&req.Payment.Currency,
		&req.Payment.Card,
		&req.Payment.CardBank,
		&req.Payment.Reference,
		&req.Payment.Instant,
		&req.Payment.PayerName,
		&req.Payment.InvoiceNumber,
		&req.Payment.InvoicePayeeName,
		&req.Payment.InvoicePayeeEmail,
		&req.Payment.InvoicePayeePhone,
		&req.Payment.InvoicePayeeTaxpayerNumber,
		&req.Payment.InvoiceProductName,
		&req.Payment.InvoiceQuantity,
		&req.Payment.InvoiceAmount,
		&req.Payment.InvoiceCurrency,
		&req.Payment.InvoiceLanguage,
		&policyJSON,
		&cascoJSON,
		&req.Note,
		&req.Completed,
		&req.CompletedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return InsuranceRequest{}, err
	}
	if len(policyJSON) > 0 {
		var d PolicyDetails
		if err := json.Unmarshal(policyJSON, &d); err != nil {
			return InsuranceRequest{}, fmt.Errorf("request: unmarshal policy details: %w", err)
		}
		req.Policy = &d
	}
	if len(cascoJSON) > 0 {
		var d CascoDetails
		if err := json.Unmarshal(cascoJSON, &d); err != nil {
			return InsuranceRequest{}, fmt.Errorf("request: unmarshal casco details: %w", err)
		}
		req.Casco = &d
	}
	return req, nil
}
