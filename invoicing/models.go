package invoicing

import "time"

// Status is the billing state of an invoice.
type Status string

const (
	StatusIssued   Status = "ISSUED"
	StatusPaid     Status = "PAID"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
)

// Spec describes the invoice to create: one consumer, one line item, and an
// external correlation id pointing back at the originating record.
type Spec struct {
	Number                 string
	ExternalID             string
	ConsumerName           string
	ConsumerEmail          string
	ConsumerPhone          string
	ConsumerTaxpayerNumber string
	ConsumerLanguage       string
	Currency               string
	ItemName               string
	ItemQuantity           int
	ItemAmount             float64
}

// Invoice mirrors the invoices table columns touched by the gateway.
type Invoice struct {
	Number                 string
	Status                 Status
	ExternalID             string
	ConsumerName           string
	ConsumerEmail          string
	ConsumerPhone          string
	ConsumerTaxpayerNumber string
	ConsumerLanguage       string
	Currency               string
	ItemName               string
	ItemQuantity           int
	ItemAmount             float64
	PaidInstant            *time.Time
	PaidReference          string
	PaidAmount             *float64
	PaidPayerName          string
	CancelReason           string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Total returns the invoice total for its single line item.
func (i Invoice) Total() float64 {
	return float64(i.ItemQuantity) * i.ItemAmount
}
