package test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"policyflow/invoicing"
	"policyflow/notification"
	"policyflow/request"
	"policyflow/test/infra"
	"policyflow/userdir"
)

// TestLifecycleConcurrency races competing transitions against a set of fresh
// requests on a containerized Postgres. Whatever interleaving the scheduler
// produces, every request must land in exactly one terminal state with its
// side effects matching that state.
func TestLifecycleConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping containerized test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if os.Getenv("TEST_PG_DSN") == "" && !dockerAvailable(ctx) {
		t.Skip("no TEST_PG_DSN and no docker; skipping")
	}

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer pgC.Terminate(context.Background())

	pool, err := infra.ApplyMigrations(ctx, dsn)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()

	directory := userdir.NewService(userdir.NewRepository(pool), "stress-secret")
	payments := request.NewPaymentOrchestrator(invoicing.NewRepository())
	lifecycle := request.NewLifecycle(pool, nil, payments, notification.NewOutboxSender(), directory)

	const requests = 10
	ids := make([]string, 0, requests)
	for i := 0; i < requests; i++ {
		saved, err := lifecycle.RequestReceived(ctx, request.InsuranceRequest{
			Product: request.ProductPolicy,
			Type:    request.TypeUncomplete,
			Requester: request.Requester{
				Name:  fmt.Sprintf("Stress Tester %d", i),
				Email: fmt.Sprintf("stress%d@example.com", i),
			},
		})
		if err != nil {
			t.Fatalf("seed request %d: %v", i, err)
		}
		ids = append(ids, saved.ID)
	}

	// each request gets one issuer-and-payer and one canceler racing it
	var g errgroup.Group
	for i, id := range ids {
		id := id
		agreement := fmt.Sprintf("AGR-STRESS-%d", i)
		g.Go(func() error {
			_, err := lifecycle.PolicyIssuedAndPremiumPaid(ctx, id, "stress-op", agreement, request.PaymentParams{
				MethodName: "CARD",
				Instant:    time.Now(),
				Amount:     100,
				Currency:   "KZT",
			})
			if err != nil && request.Recoverable(err) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			_, err := lifecycle.RequestCanceled(ctx, id, "stress-op", request.ReasonNoLongerNeeded)
			if err != nil && request.Recoverable(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("stress run: %v", err)
	}

	for _, id := range ids {
		req, err := lifecycle.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("load %s: %v", id, err)
		}

		switch req.Status {
		case request.StatusPremiumPaid:
			if req.Payment.Status != request.PaymentDone {
				t.Errorf("%s: paid request with payment status %s", id, req.Payment.Status)
			}
		case request.StatusRequestCanceled:
			if req.Payment.Status != request.PaymentCanceled {
				t.Errorf("%s: canceled request with payment status %s", id, req.Payment.Status)
			}
			if req.AgreementNumber != "" {
				t.Errorf("%s: canceled request kept agreement %q", id, req.AgreementNumber)
			}
		default:
			t.Errorf("%s: non-terminal status %s after racing transitions", id, req.Status)
		}

		if req.Progress != request.ProgressFinished {
			t.Errorf("%s: expected FINISHED, got %s", id, req.Progress)
		}
		if req.Completed == nil || req.CompletedBy == "" {
			t.Errorf("%s: missing completion attribution", id)
		}

		var paidNotifications int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND payload->>'request_id' = $2`,
			notification.TopicRequestPaidCompanyEmail, id).Scan(&paidNotifications); err != nil {
			t.Fatalf("count outbox for %s: %v", id, err)
		}
		want := 0
		if req.Status == request.StatusPremiumPaid {
			want = 1
		}
		if paidNotifications != want {
			t.Errorf("%s: expected %d paid notifications, got %d", id, want, paidNotifications)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}
