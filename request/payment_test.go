package request

import (
	"context"
	"errors"
	"testing"

	"policyflow/invoicing"
)

func TestCreateInvoice_UnpersistedRequest(t *testing.T) {
	gw := &fakeGateway{}
	o := NewPaymentOrchestrator(gw)

	req := pendingRequest()
	req.ID = ""
	req.Status = StatusPolicyIssued

	err := o.CreateInvoice(context.Background(), &fakeTx{}, &req, validInvoice())
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if len(gw.created) != 0 {
		t.Errorf("expected no gateway call")
	}
}

func TestCreateInvoice_GatewayRejectionIsInternal(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("duplicate number")}
	o := NewPaymentOrchestrator(gw)

	req := pendingRequest()
	req.Status = StatusPolicyIssued

	err := o.CreateInvoice(context.Background(), &fakeTx{}, &req, validInvoice())
	if err == nil {
		t.Fatalf("expected error")
	}
	if Recoverable(err) {
		t.Errorf("expected gateway rejection to be internal, got %v", err)
	}
	if req.Payment.InvoiceNumber != "" {
		t.Errorf("expected payment sub-record untouched on failure, got %q", req.Payment.InvoiceNumber)
	}
}

func TestCancelPaidInvoice_MissingInvoiceIgnored(t *testing.T) {
	gw := &fakeGateway{cancelErr: invoicing.ErrInvoiceNotFound}
	o := NewPaymentOrchestrator(gw)

	req := pendingRequest()
	req.Payment.InvoiceNumber = "INV-GONE"

	if err := o.CancelPaidInvoice(context.Background(), &fakeTx{}, &req, ReasonWrongData, ""); err != nil {
		t.Fatalf("expected missing invoice to be ignored, got %v", err)
	}
}

func TestCancelPaidInvoice_NoInvoiceNoCall(t *testing.T) {
	gw := &fakeGateway{}
	o := NewPaymentOrchestrator(gw)

	req := pendingRequest()

	if err := o.CancelPaidInvoice(context.Background(), &fakeTx{}, &req, ReasonWrongData, ""); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(gw.canceled) != 0 {
		t.Errorf("expected no gateway call without an invoice")
	}
}

func TestReconcileExternalPayment_NoInvoiceNoCall(t *testing.T) {
	gw := &fakeGateway{}
	o := NewPaymentOrchestrator(gw)

	req := pendingRequest()

	if err := o.ReconcileExternalPayment(context.Background(), &fakeTx{}, &req, validPayment()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(gw.reconciled) != 0 {
		t.Errorf("expected no gateway call without an invoice")
	}
}

func TestLocalizeCancelReason(t *testing.T) {
	cases := []struct {
		name     string
		language string
		reason   CancellationReason
		comments string
		want     string
	}{
		{
			name:     "english",
			language: "en",
			reason:   ReasonWrongData,
			want:     "payment canceled: request data was incorrect",
		},
		{
			name:     "russian with comments",
			language: "ru",
			reason:   ReasonPaidElsewhere,
			comments: "paid via bank",
			want:     "платеж отменен: премия оплачена другим способом (paid via bank)",
		},
		{
			name:     "kazakh",
			language: "kk",
			reason:   ReasonNoLongerNeeded,
			want:     "төлем жойылды: сақтандыру қажет емес",
		},
		{
			name:     "unknown language falls back to english",
			language: "de",
			reason:   ReasonPaymentFailed,
			want:     "payment canceled: payment could not be confirmed",
		},
		{
			name:     "unknown reason passes through",
			language: "en",
			reason:   CancellationReason("OTHER"),
			want:     "OTHER",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := localizeCancelReason(tc.language, tc.reason, tc.comments)
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestInvoiceParamsValidate_FieldOrder(t *testing.T) {
	p := InvoiceParams{}
	err := p.validate()
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if argErr.Field != "invoicePayeeName" {
		t.Errorf("expected first missing field reported, got %s", argErr.Field)
	}
}
