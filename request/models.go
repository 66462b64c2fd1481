package request

import "time"

// Status is the detailed lifecycle status of an insurance request.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPolicyIssued    Status = "POLICY_ISSUED"
	StatusPremiumPaid     Status = "PREMIUM_PAID"
	StatusRequestCanceled Status = "REQUEST_CANCELED"
	StatusPaymentCanceled Status = "PAYMENT_CANCELED"
)

// ProgressStatus is the coarse open/closed axis, independent of Status.
// FINISHED is terminal.
type ProgressStatus string

const (
	ProgressNew      ProgressStatus = "NEW"
	ProgressFinished ProgressStatus = "FINISHED"
)

// PaymentStatus tracks the payment sub-record.
type PaymentStatus string

const (
	PaymentUndefined PaymentStatus = "UNDEFINED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentDone      PaymentStatus = "DONE"
	PaymentCanceled  PaymentStatus = "CANCELED"
)

// Type is the intake channel; it only decides whether intake notifications fire.
type Type string

const (
	TypeOnline     Type = "ONLINE"
	TypeExpress    Type = "EXPRESS"
	TypeUncomplete Type = "UNCOMPLETE"
)

// Product discriminates the insurance line a request belongs to.
type Product string

const (
	ProductPolicy Product = "POLICY"
	ProductCasco  Product = "CASCO"
)

// CancellationReason enumerates why a request or payment was canceled.
type CancellationReason string

const (
	ReasonWrongData      CancellationReason = "WRONG_DATA"
	ReasonPaidElsewhere  CancellationReason = "PAID_ELSEWHERE"
	ReasonNoLongerNeeded CancellationReason = "NO_LONGER_NEEDED"
	ReasonPaymentFailed  CancellationReason = "PAYMENT_FAILED"
)

// Requester is the immutable snapshot of the request originator, used for
// notification targeting and invoice line items.
type Requester struct {
	Name     string
	Email    string
	Phone    string
	Language string
}

// Payment mirrors the payment sub-record columns of the request row.
type Payment struct {
	Status     PaymentStatus
	MethodName string
	Amount     float64
	Currency   string
	Card       string
	CardBank   string
	Reference  string
	Instant    *time.Time
	PayerName  string

	InvoiceNumber              string
	InvoicePayeeName           string
	InvoicePayeeEmail          string
	InvoicePayeePhone          string
	InvoicePayeeTaxpayerNumber string
	InvoiceProductName         string
	InvoiceQuantity            int
	InvoiceAmount              float64
	InvoiceCurrency            string
	InvoiceLanguage            string
}

// PolicyDetails carries the policy-line specifics of a request.
type PolicyDetails struct {
	PeriodFrom *time.Time `json:"period_from,omitempty"`
	PeriodTo   *time.Time `json:"period_to,omitempty"`
}

// CascoDetails carries the casco-line specifics of a request.
type CascoDetails struct {
	VehicleVIN   string `json:"vehicle_vin,omitempty"`
	VehicleModel string `json:"vehicle_model,omitempty"`
}

// InsuranceRequest is the aggregate root tracked from intake to completion.
// It is exclusively owned by the repository between operations; the lifecycle
// borrows it for the duration of one transaction.
type InsuranceRequest struct {
	ID                 string
	Product            Product
	Type               Type
	Status             Status
	Progress           ProgressStatus
	AgreementNumber    string
	CancellationReason CancellationReason
	Requester          Requester
	Payment            Payment
	Policy             *PolicyDetails
	Casco              *CascoDetails
	Note               string
	Completed          *time.Time
	CompletedBy        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasInvoice reports whether an invoice has been created and not yet
// superseded by cancellation.
func (r *InsuranceRequest) HasInvoice() bool {
	return r.Payment.InvoiceNumber != ""
}
