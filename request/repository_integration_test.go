package request

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"policyflow/invoicing"
	"policyflow/notification"
	"policyflow/userdir"
)

// TestLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL and
// drives one request from intake to payment, verifying the persisted row, the
// invoice and the outbox after each transition.
func TestLifecycle_Integration(t *testing.T) {
	pool, l := integrationLifecycle(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	saved, err := l.RequestReceived(ctx, InsuranceRequest{
		Product: ProductPolicy,
		Type:    TypeOnline,
		Requester: Requester{
			Name:     "Integration Tester",
			Email:    "itest@example.com",
			Language: "en",
		},
	})
	if err != nil {
		t.Fatalf("request received: %v", err)
	}
	cleanupRequest(t, pool, saved.ID)

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM insurance_requests WHERE id = $1`, saved.ID).Scan(&status); err != nil {
		t.Fatalf("verify row: %v", err)
	}
	if status != string(StatusPending) {
		t.Fatalf("expected PENDING row, got %q", status)
	}

	var intakeOutbox int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'request_id' = $1`, saved.ID).Scan(&intakeOutbox); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if intakeOutbox != 2 {
		t.Fatalf("expected company and requester intake notifications, got %d", intakeOutbox)
	}

	issued, err := l.PolicyIssuedAndInvoiceCreated(ctx, saved.ID, "integration-op", "AGR-ITEST-1", InvoiceParams{
		PayeeName:           "Integration Tester",
		PayeeEmail:          "itest@example.com",
		PayeePhone:          "+7700000001",
		PayeeTaxpayerNumber: "123456789012",
		Currency:            "KZT",
		Language:            "en",
		ProductName:         "Travel policy",
		UnitAmount:          100,
		Quantity:            1,
	})
	if err != nil {
		t.Fatalf("policy issued and invoice created: %v", err)
	}
	if issued.Payment.InvoiceNumber == "" {
		t.Fatalf("expected invoice number on the request")
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM invoices WHERE number = $1`, issued.Payment.InvoiceNumber)
	})

	var invoiceStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM invoices WHERE number = $1`, issued.Payment.InvoiceNumber).Scan(&invoiceStatus); err != nil {
		t.Fatalf("verify invoice: %v", err)
	}
	if invoiceStatus != string(invoicing.StatusIssued) {
		t.Fatalf("expected ISSUED invoice, got %q", invoiceStatus)
	}

	// read back through the mapper and compare against the supplied params,
	// not the value the write returned
	loaded, err := l.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if loaded.Payment.Status != PaymentPending {
		t.Fatalf("expected read-back payment status PENDING, got %s", loaded.Payment.Status)
	}
	if loaded.Payment.InvoiceNumber != issued.Payment.InvoiceNumber {
		t.Fatalf("expected read-back invoice number %q, got %q", issued.Payment.InvoiceNumber, loaded.Payment.InvoiceNumber)
	}
	if loaded.Payment.InvoiceProductName != "Travel policy" {
		t.Fatalf("expected read-back product name %q, got %q", "Travel policy", loaded.Payment.InvoiceProductName)
	}
	if loaded.Payment.InvoiceQuantity != 1 || loaded.Payment.InvoiceAmount != 100 {
		t.Fatalf("expected read-back quantity 1 amount 100, got %d %v", loaded.Payment.InvoiceQuantity, loaded.Payment.InvoiceAmount)
	}
	if loaded.Payment.InvoiceCurrency != "KZT" || loaded.Payment.InvoiceLanguage != "en" {
		t.Fatalf("expected read-back currency KZT language en, got %q %q", loaded.Payment.InvoiceCurrency, loaded.Payment.InvoiceLanguage)
	}
	if loaded.AgreementNumber != "AGR-ITEST-1" {
		t.Fatalf("expected read-back agreement AGR-ITEST-1, got %q", loaded.AgreementNumber)
	}

	// a second read with no write in between must be structurally identical
	again, err := l.GetByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get by id (second): %v", err)
	}
	if !reflect.DeepEqual(loaded, again) {
		t.Fatalf("expected repeated reads to be identical:\nfirst:  %+v\nsecond: %+v", loaded, again)
	}

	paid, err := l.PremiumPaid(ctx, saved.ID, "integration-op", PaymentParams{
		MethodName: "CARD",
		Instant:    time.Now(),
		Amount:     100,
		Currency:   "KZT",
	})
	if err != nil {
		t.Fatalf("premium paid: %v", err)
	}
	if paid.Status != StatusPremiumPaid || paid.Progress != ProgressFinished {
		t.Fatalf("expected PREMIUM_PAID/FINISHED, got %s/%s", paid.Status, paid.Progress)
	}

	if err := pool.QueryRow(ctx, `SELECT status FROM invoices WHERE number = $1`, issued.Payment.InvoiceNumber).Scan(&invoiceStatus); err != nil {
		t.Fatalf("re-verify invoice: %v", err)
	}
	if invoiceStatus != string(invoicing.StatusPaid) {
		t.Fatalf("expected PAID invoice after premium payment, got %q", invoiceStatus)
	}

	var paidOutbox int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND payload->>'request_id' = $2`,
		notification.TopicRequestPaidCompanyEmail, saved.ID).Scan(&paidOutbox); err != nil {
		t.Fatalf("verify paid outbox: %v", err)
	}
	if paidOutbox != 1 {
		t.Fatalf("expected one payment notification, got %d", paidOutbox)
	}
}

// TestPolicyIssued_ConcurrentIntegration races several issuers against the
// same PENDING request. The row lock serializes them: exactly one transition
// commits, the rest fail the status guard.
func TestPolicyIssued_ConcurrentIntegration(t *testing.T) {
	pool, l := integrationLifecycle(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	saved, err := l.RequestReceived(ctx, InsuranceRequest{
		Product:   ProductCasco,
		Type:      TypeUncomplete,
		Requester: Requester{Name: "Race Tester"},
	})
	if err != nil {
		t.Fatalf("request received: %v", err)
	}
	cleanupRequest(t, pool, saved.ID)

	const workers = 8
	results := make([]error, workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, err := l.PolicyIssued(ctx, saved.ID, "integration-op", "AGR-RACE-1")
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var wins, guards int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			var stateErr *StateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("expected StateError from losers, got %v", err)
			}
			guards++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (guards=%d)", wins, guards)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT status FROM insurance_requests WHERE id = $1`, saved.ID).Scan(&status); err != nil {
		t.Fatalf("verify row: %v", err)
	}
	if status != string(StatusPolicyIssued) {
		t.Fatalf("expected POLICY_ISSUED row, got %q", status)
	}
}

func integrationLifecycle(t *testing.T) (*pgxpool.Pool, *Lifecycle) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"insurance_requests", "invoices", "outbox", "users"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("database schema missing table %s; apply migrations first", table)
		}
	}

	directory := userdir.NewService(userdir.NewRepository(pool), "integration-secret")
	payments := NewPaymentOrchestrator(invoicing.NewRepository())
	l := NewLifecycle(pool, nil, payments, notification.NewOutboxSender(), directory)
	return pool, l
}

func cleanupRequest(t *testing.T, pool *pgxpool.Pool, id string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool.Exec(ctx, `DELETE FROM outbox WHERE payload->>'request_id' = $1`, id)
		pool.Exec(ctx, `DELETE FROM invoices WHERE external_id = $1`, id)
		pool.Exec(ctx, `DELETE FROM insurance_requests WHERE id = $1`, id)
	})
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
