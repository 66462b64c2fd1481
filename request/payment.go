package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"policyflow/invoicing"
)

// InvoicingGateway is the billing collaborator the orchestrator relays to.
// Calls ride the unit-of-work transaction so invoice and request state commit
// together.
type InvoicingGateway interface {
	Create(ctx context.Context, tx pgx.Tx, spec invoicing.Spec) (invoicing.Invoice, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, number string, instant time.Time) error
	Expire(ctx context.Context, tx pgx.Tx, number string) error
	CancelWithReason(ctx context.Context, tx pgx.Tx, number, reason string) error
	ReconcileUnknownPayment(ctx context.Context, tx pgx.Tx, number string, amount float64, currency string, instant time.Time, reference, payerName string) error
}

// InvoiceParams is the caller-supplied input for creating an invoice.
type InvoiceParams struct {
	PayeeName           string
	PayeeEmail          string
	PayeePhone          string
	PayeeTaxpayerNumber string
	Currency            string
	Language            string
	ProductName         string
	UnitAmount          float64
	Quantity            int
}

func (p InvoiceParams) validate() error {
	if p.PayeeName == "" {
		return badArg("invoicePayeeName", "required")
	}
	if p.PayeeEmail == "" {
		return badArg("invoicePayeeEmail", "required")
	}
	if p.PayeePhone == "" {
		return badArg("invoicePayeePhone", "required")
	}
	if p.PayeeTaxpayerNumber == "" {
		return badArg("invoicePayeeTaxpayerNumber", "required")
	}
	if p.Currency == "" {
		return badArg("invoiceCurrency", "required")
	}
	if p.Language == "" {
		return badArg("invoiceLanguage", "required")
	}
	if p.ProductName == "" {
		return badArg("invoiceProductName", "required")
	}
	if p.UnitAmount <= 0 {
		return badArg("invoiceAmount", "must be positive")
	}
	if p.Quantity <= 0 {
		return badArg("invoiceQuantity", "must be positive")
	}
	return nil
}

// PaymentParams is the caller-supplied input for recording a premium payment.
type PaymentParams struct {
	MethodName string
	Instant    time.Time
	Amount     float64
	Currency   string
	Card       string
	CardBank   string
	Reference  string
	PayerName  string
}

func (p PaymentParams) validate() error {
	if p.MethodName == "" {
		return badArg("paymentMethodName", "required")
	}
	if p.Instant.IsZero() {
		return badArg("paymentInstant", "required")
	}
	if p.Amount <= 0 {
		return badArg("paymentAmount", "must be positive")
	}
	if p.Currency == "" {
		return badArg("paymentCurrency", "required")
	}
	return nil
}

// PaymentOrchestrator builds invoice requests from request data, relays
// payment confirmations to the invoicing gateway and keeps the request's
// payment sub-record synchronized with invoice state.
type PaymentOrchestrator struct {
	invoices  InvoicingGateway
	numberGen func() string
}

func NewPaymentOrchestrator(invoices InvoicingGateway) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		invoices:  invoices,
		numberGen: func() string { return "INV-" + uuid.NewString() },
	}
}

func (o *PaymentOrchestrator) WithNumberGenerator(gen func() string) *PaymentOrchestrator {
	o.numberGen = gen
	return o
}

// CreateInvoice asks the gateway for a freshly numbered invoice correlated to
// the request and mirrors the accepted invoice into the payment sub-record.
// A gateway rejection of input that passed validation here is internal: the
// precondition check is expected to make it impossible.
func (o *PaymentOrchestrator) CreateInvoice(ctx context.Context, tx pgx.Tx, req *InsuranceRequest, params InvoiceParams) error {
	if req.ID == "" {
		return badArg("id", "request must be persisted before invoicing")
	}
	if err := params.validate(); err != nil {
		return err
	}
	if req.Status != StatusPolicyIssued {
		return badState(req.Status, StatusPolicyIssued)
	}

	spec := invoicing.Spec{
		Number:                 o.numberGen(),
		ExternalID:             req.ID,
		ConsumerName:           params.PayeeName,
		ConsumerEmail:          params.PayeeEmail,
		ConsumerPhone:          params.PayeePhone,
		ConsumerTaxpayerNumber: params.PayeeTaxpayerNumber,
		ConsumerLanguage:       params.Language,
		Currency:               params.Currency,
		ItemName:               params.ProductName,
		ItemQuantity:           params.Quantity,
		ItemAmount:             params.UnitAmount,
	}

	inv, err := o.invoices.Create(ctx, tx, spec)
	if err != nil {
		return internalf("invoice create rejected: %v", err)
	}

	p := &req.Payment
	p.Status = PaymentPending
	p.InvoiceNumber = inv.Number
	p.InvoiceProductName = inv.ItemName
	p.InvoiceQuantity = inv.ItemQuantity
	p.InvoiceAmount = inv.ItemAmount
	p.InvoiceCurrency = inv.Currency
	p.InvoicePayeeName = inv.ConsumerName
	p.InvoicePayeeEmail = inv.ConsumerEmail
	p.InvoicePayeePhone = inv.ConsumerPhone
	p.InvoicePayeeTaxpayerNumber = inv.ConsumerTaxpayerNumber
	p.InvoiceLanguage = inv.ConsumerLanguage
	return nil
}

// MarkPremiumPaid marks the request's live invoice paid when the premium is
// recorded manually, so the invoice cannot be paid a second time. A request
// without an invoice, or whose invoice is already gone, is left alone.
func (o *PaymentOrchestrator) MarkPremiumPaid(ctx context.Context, tx pgx.Tx, req *InsuranceRequest, instant time.Time) error {
	if !req.HasInvoice() {
		return nil
	}
	if err := o.invoices.MarkPaid(ctx, tx, req.Payment.InvoiceNumber, instant); err != nil {
		if errors.Is(err, invoicing.ErrInvoiceNotFound) {
			return nil
		}
		return internalf("mark invoice %s paid: %v", req.Payment.InvoiceNumber, err)
	}
	return nil
}

// CancelInvoiceIfPresent expires the request's live invoice, if any. An
// invoice already absent on the gateway side is idempotently ignored.
func (o *PaymentOrchestrator) CancelInvoiceIfPresent(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
	if !req.HasInvoice() {
		return nil
	}
	if err := o.invoices.Expire(ctx, tx, req.Payment.InvoiceNumber); err != nil {
		if errors.Is(err, invoicing.ErrInvoiceNotFound) {
			return nil
		}
		return internalf("expire invoice %s: %v", req.Payment.InvoiceNumber, err)
	}
	return nil
}

// CancelPaidInvoice voids the paid invoice behind a canceled payment, with a
// reason text localized to the requester's preferred language.
func (o *PaymentOrchestrator) CancelPaidInvoice(ctx context.Context, tx pgx.Tx, req *InsuranceRequest, reason CancellationReason, comments string) error {
	if !req.HasInvoice() {
		return nil
	}
	text := localizeCancelReason(req.Requester.Language, reason, comments)
	if err := o.invoices.CancelWithReason(ctx, tx, req.Payment.InvoiceNumber, text); err != nil {
		if errors.Is(err, invoicing.ErrInvoiceNotFound) {
			return nil
		}
		return internalf("cancel invoice %s: %v", req.Payment.InvoiceNumber, err)
	}
	return nil
}

// ReconcileExternalPayment attributes a payment the invoicing system observed
// on its own to the request's invoice, before the request itself transitions.
func (o *PaymentOrchestrator) ReconcileExternalPayment(ctx context.Context, tx pgx.Tx, req *InsuranceRequest, params PaymentParams) error {
	if !req.HasInvoice() {
		return nil
	}
	err := o.invoices.ReconcileUnknownPayment(ctx, tx, req.Payment.InvoiceNumber,
		params.Amount, params.Currency, params.Instant, params.Reference, params.PayerName)
	if err != nil {
		return internalf("reconcile payment on invoice %s: %v", req.Payment.InvoiceNumber, err)
	}
	return nil
}

var cancelReasonText = map[string]map[CancellationReason]string{
	"en": {
		ReasonWrongData:      "payment canceled: request data was incorrect",
		ReasonPaidElsewhere:  "payment canceled: premium was paid through another channel",
		ReasonNoLongerNeeded: "payment canceled: insurance no longer needed",
		ReasonPaymentFailed:  "payment canceled: payment could not be confirmed",
	},
	"ru": {
		ReasonWrongData:      "платеж отменен: данные заявки неверны",
		ReasonPaidElsewhere:  "платеж отменен: премия оплачена другим способом",
		ReasonNoLongerNeeded: "платеж отменен: страховка больше не требуется",
		ReasonPaymentFailed:  "платеж отменен: платеж не подтвержден",
	},
	"kk": {
		ReasonWrongData:      "төлем жойылды: өтінім деректері қате",
		ReasonPaidElsewhere:  "төлем жойылды: сыйлықақы басқа жолмен төленді",
		ReasonNoLongerNeeded: "төлем жойылды: сақтандыру қажет емес",
		ReasonPaymentFailed:  "төлем жойылды: төлем расталмады",
	},
}

func localizeCancelReason(language string, reason CancellationReason, comments string) string {
	byReason, ok := cancelReasonText[language]
	if !ok {
		byReason = cancelReasonText["en"]
	}
	text, ok := byReason[reason]
	if !ok {
		text = string(reason)
	}
	if comments != "" {
		return fmt.Sprintf("%s (%s)", text, comments)
	}
	return text
}
