package request

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"policyflow/metrics"
	"policyflow/notification"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the persistence gateway the lifecycle operates through.
// Rows returned by writes are always the fully materialized persisted form.
type Repository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (InsuranceRequest, error)
	Get(ctx context.Context, tx pgx.Tx, id string) (InsuranceRequest, error)
	Insert(ctx context.Context, tx pgx.Tx, req InsuranceRequest) (InsuranceRequest, error)
	Update(ctx context.Context, tx pgx.Tx, req InsuranceRequest) (InsuranceRequest, error)
}

// Notifier delivers event notifications inside the operation's transaction.
type Notifier interface {
	Send(ctx context.Context, tx pgx.Tx, n notification.Notification) error
}

// Directory resolves the automated system actor used for externally
// confirmed payments.
type Directory interface {
	SystemID(ctx context.Context) (string, error)
}

// Lifecycle owns the request state machine. Each exported method is one
// atomic unit of work: guard, mutate, persist and side effects either all
// apply or the operation fails with no visible partial state.
type Lifecycle struct {
	pool      TxBeginner
	repo      Repository
	payments  *PaymentOrchestrator
	notifier  Notifier
	directory Directory
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewLifecycle(pool TxBeginner, repo Repository, payments *PaymentOrchestrator, notifier Notifier, directory Directory) *Lifecycle {
	if repo == nil {
		repo = NewRepository()
	}
	return &Lifecycle{
		pool:      pool,
		repo:      repo,
		payments:  payments,
		notifier:  notifier,
		directory: directory,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

func (l *Lifecycle) WithLogger(logger *slog.Logger) *Lifecycle {
	l.logger = logger
	return l
}

func (l *Lifecycle) WithMetrics(m *metrics.Metrics) *Lifecycle {
	l.metrics = m
	return l
}

// GetByID loads a request. A missing id is an argument-class problem since
// callers pass identifiers end users might mistype.
func (l *Lifecycle) GetByID(ctx context.Context, id string) (InsuranceRequest, error) {
	if id == "" {
		return InsuranceRequest{}, badArg("id", "required")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := l.repo.Get(ctx, tx, id)
	if err != nil {
		return InsuranceRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: commit tx: %w", err)
	}
	return req, nil
}

// RequestReceived accepts a brand-new request: defaults are filled in, the
// status becomes PENDING and intake notifications fire for the ONLINE and
// EXPRESS channels.
func (l *Lifecycle) RequestReceived(ctx context.Context, req InsuranceRequest) (InsuranceRequest, error) {
	if req.ID != "" {
		return InsuranceRequest{}, badArg("id", "must be empty for a new request")
	}
	if req.Status != "" {
		return InsuranceRequest{}, badState(req.Status)
	}
	if req.Product != ProductPolicy && req.Product != ProductCasco {
		return InsuranceRequest{}, badArg("product", "must be POLICY or CASCO")
	}
	if req.Requester.Name == "" {
		return InsuranceRequest{}, badArg("requester.name", "required")
	}

	if req.CreatedAt.IsZero() {
		req.CreatedAt = l.now()
	}
	if req.Progress == "" {
		req.Progress = ProgressNew
	}
	if req.Payment.Status == "" {
		req.Payment.Status = PaymentUndefined
	}
	req.Status = StatusPending

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	saved, err := l.repo.Insert(ctx, tx, req)
	if err != nil {
		return InsuranceRequest{}, internalf("save new request: %v", err)
	}

	enqueued := 0
	switch saved.Type {
	case TypeOnline, TypeExpress:
		if err := l.notify(ctx, tx, saved, notification.EventNewRequest, notification.RecipientCompany); err != nil {
			return InsuranceRequest{}, internalf("notify company: %v", err)
		}
		enqueued++
		if saved.Requester.Email != "" {
			if err := l.notify(ctx, tx, saved, notification.EventNewRequest, notification.RecipientRequester); err != nil {
				return InsuranceRequest{}, internalf("notify requester: %v", err)
			}
			enqueued++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: commit tx: %w", err)
	}

	l.count("request_received")
	l.countNotifications(enqueued)
	l.logger.Info("new request accepted",
		"request_id", saved.ID,
		"product", saved.Product,
		"requester", saved.Requester.Name,
		"email", saved.Requester.Email,
		"phone", saved.Requester.Phone,
	)
	return saved, nil
}

// PolicyIssued records underwriting approval under the given agreement number.
func (l *Lifecycle) PolicyIssued(ctx context.Context, id, actorID, agreementNumber string) (InsuranceRequest, error) {
	if err := requireIssueArgs(actorID, agreementNumber); err != nil {
		return InsuranceRequest{}, err
	}

	return l.inTx(ctx, id, "policy_issued", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		return applyPolicyIssued(req, agreementNumber)
	})
}

// InvoiceCreated asks the invoicing gateway for a new invoice and mirrors its
// fields into the request's payment sub-record.
func (l *Lifecycle) InvoiceCreated(ctx context.Context, id string, params InvoiceParams) (InsuranceRequest, error) {
	if err := params.validate(); err != nil {
		return InsuranceRequest{}, err
	}

	saved, err := l.inTx(ctx, id, "invoice_created", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		return l.payments.CreateInvoice(ctx, tx, req, params)
	})
	if err == nil && l.metrics != nil {
		l.metrics.InvoicesIssued.Inc()
	}
	return saved, err
}

// PremiumPaid records the premium payment, finishes the request and notifies
// the company.
func (l *Lifecycle) PremiumPaid(ctx context.Context, id, actorID string, params PaymentParams) (InsuranceRequest, error) {
	if actorID == "" {
		return InsuranceRequest{}, badArg("actorID", "required")
	}
	if err := params.validate(); err != nil {
		return InsuranceRequest{}, err
	}

	saved, err := l.inTx(ctx, id, "premium_paid", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		if err := l.applyPremiumPaid(req, actorID, params); err != nil {
			return err
		}
		return l.payments.MarkPremiumPaid(ctx, tx, req, params.Instant)
	}, l.notifyPaid)
	if err == nil {
		l.countNotifications(1)
	}
	return saved, err
}

// RequestCanceled abandons an open request. Any live invoice is expired so it
// can no longer be paid.
func (l *Lifecycle) RequestCanceled(ctx context.Context, id, actorID string, reason CancellationReason) (InsuranceRequest, error) {
	if actorID == "" {
		return InsuranceRequest{}, badArg("actorID", "required")
	}
	if reason == "" {
		return InsuranceRequest{}, badArg("reason", "required")
	}

	return l.inTx(ctx, id, "request_canceled", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		switch req.Status {
		case StatusPending, StatusPolicyIssued, StatusPaymentCanceled:
		default:
			return badState(req.Status, StatusPending, StatusPolicyIssued, StatusPaymentCanceled)
		}
		if err := l.finish(req, actorID); err != nil {
			return err
		}
		req.Status = StatusRequestCanceled
		req.Payment.Status = PaymentCanceled
		req.CancellationReason = reason
		req.AgreementNumber = ""
		return nil
	}, func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		return l.payments.CancelInvoiceIfPresent(ctx, tx, req)
	})
}

// PaymentCanceled voids a collected premium: the paid invoice is canceled
// with a reason localized to the requester's language and the request reopens
// in PAYMENT_CANCELED so it can be canceled or completed again.
func (l *Lifecycle) PaymentCanceled(ctx context.Context, id, actorID string, reason CancellationReason, comments string) (InsuranceRequest, error) {
	if actorID == "" {
		return InsuranceRequest{}, badArg("actorID", "required")
	}
	if reason == "" {
		return InsuranceRequest{}, badArg("reason", "required")
	}

	return l.inTx(ctx, id, "payment_canceled", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		if req.Status != StatusPremiumPaid {
			return badState(req.Status, StatusPremiumPaid)
		}
		req.Status = StatusPaymentCanceled
		req.Payment.Status = PaymentCanceled
		req.CancellationReason = reason
		req.Progress = ProgressNew
		req.Completed = nil
		req.CompletedBy = ""
		return nil
	}, func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		return l.payments.CancelPaidInvoice(ctx, tx, req, reason, comments)
	})
}

// PolicyIssuedAndInvoiceCreated chains issuance and invoicing in one unit of
// work; if the second edge fails nothing of the first is visible.
func (l *Lifecycle) PolicyIssuedAndInvoiceCreated(ctx context.Context, id, actorID, agreementNumber string, params InvoiceParams) (InsuranceRequest, error) {
	if err := requireIssueArgs(actorID, agreementNumber); err != nil {
		return InsuranceRequest{}, err
	}
	if err := params.validate(); err != nil {
		return InsuranceRequest{}, err
	}

	saved, err := l.inTx(ctx, id, "policy_issued_and_invoice_created", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		if err := applyPolicyIssued(req, agreementNumber); err != nil {
			return err
		}
		issued, err := l.repo.Update(ctx, tx, *req)
		if err != nil {
			return internalf("save issued request: %v", err)
		}
		*req = issued
		return l.payments.CreateInvoice(ctx, tx, req, params)
	})
	if err == nil && l.metrics != nil {
		l.metrics.InvoicesIssued.Inc()
	}
	return saved, err
}

// PolicyIssuedAndPremiumPaid chains issuance and payment in one unit of work.
func (l *Lifecycle) PolicyIssuedAndPremiumPaid(ctx context.Context, id, actorID, agreementNumber string, params PaymentParams) (InsuranceRequest, error) {
	if err := requireIssueArgs(actorID, agreementNumber); err != nil {
		return InsuranceRequest{}, err
	}
	if err := params.validate(); err != nil {
		return InsuranceRequest{}, err
	}

	saved, err := l.inTx(ctx, id, "policy_issued_and_premium_paid", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		if err := applyPolicyIssued(req, agreementNumber); err != nil {
			return err
		}
		issued, err := l.repo.Update(ctx, tx, *req)
		if err != nil {
			return internalf("save issued request: %v", err)
		}
		*req = issued
		if err := l.applyPremiumPaid(req, actorID, params); err != nil {
			return err
		}
		return l.payments.MarkPremiumPaid(ctx, tx, req, params.Instant)
	}, l.notifyPaid)
	if err == nil {
		l.countNotifications(1)
	}
	return saved, err
}

// InvoicePaidByUs handles a payment confirmation initiated by the invoicing
// system: the invoice is marked paid first, then the request runs the same
// premium-paid transition so both records agree. The acting user is the
// automated system actor.
func (l *Lifecycle) InvoicePaidByUs(ctx context.Context, id string, params PaymentParams) (InsuranceRequest, error) {
	if err := params.validate(); err != nil {
		return InsuranceRequest{}, err
	}

	actorID, err := l.directory.SystemID(ctx)
	if err != nil {
		return InsuranceRequest{}, internalf("resolve system actor: %v", err)
	}

	saved, err := l.inTx(ctx, id, "invoice_paid_by_us", func(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
		if err := l.payments.ReconcileExternalPayment(ctx, tx, req, params); err != nil {
			return err
		}
		return l.applyPremiumPaid(req, actorID, params)
	}, l.notifyPaid)
	if err == nil {
		l.countNotifications(1)
	}
	return saved, err
}

// inTx is the shared unit-of-work skeleton: load the aggregate under a row
// lock, apply the mutation, persist, run post-persist effects, commit.
func (l *Lifecycle) inTx(ctx context.Context, id, event string, mutate func(context.Context, pgx.Tx, *InsuranceRequest) error, after ...func(context.Context, pgx.Tx, *InsuranceRequest) error) (InsuranceRequest, error) {
	if id == "" {
		return InsuranceRequest{}, badArg("id", "required")
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := l.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return InsuranceRequest{}, err
	}

	if err := mutate(ctx, tx, &req); err != nil {
		return InsuranceRequest{}, err
	}

	saved, err := l.repo.Update(ctx, tx, req)
	if err != nil {
		return InsuranceRequest{}, internalf("save request: %v", err)
	}

	for _, fn := range after {
		if err := fn(ctx, tx, &saved); err != nil {
			return InsuranceRequest{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: commit tx: %w", err)
	}

	l.count(event)
	return saved, nil
}

func applyPolicyIssued(req *InsuranceRequest, agreementNumber string) error {
	if req.Status != StatusPending {
		return badState(req.Status, StatusPending)
	}
	req.Status = StatusPolicyIssued
	req.CancellationReason = ""
	req.AgreementNumber = agreementNumber
	return nil
}

func (l *Lifecycle) applyPremiumPaid(req *InsuranceRequest, actorID string, params PaymentParams) error {
	if req.Status != StatusPolicyIssued {
		return badState(req.Status, StatusPolicyIssued)
	}
	if err := l.finish(req, actorID); err != nil {
		return err
	}

	instant := params.Instant
	req.Status = StatusPremiumPaid
	req.Payment.Status = PaymentDone
	req.Payment.MethodName = params.MethodName
	req.Payment.Amount = params.Amount
	req.Payment.Currency = params.Currency
	req.Payment.Card = params.Card
	req.Payment.CardBank = params.CardBank
	req.Payment.Reference = params.Reference
	req.Payment.Instant = &instant
	req.Payment.PayerName = params.PayerName
	return nil
}

// finish flips the coarse progress axis; FINISHED is terminal.
func (l *Lifecycle) finish(req *InsuranceRequest, actorID string) error {
	if req.Progress == ProgressFinished {
		return &ProgressError{Actual: req.Progress}
	}
	now := l.now()
	req.Progress = ProgressFinished
	req.Completed = &now
	req.CompletedBy = actorID
	return nil
}

func (l *Lifecycle) notifyPaid(ctx context.Context, tx pgx.Tx, req *InsuranceRequest) error {
	if err := l.notify(ctx, tx, *req, notification.EventRequestPaid, notification.RecipientCompany); err != nil {
		return internalf("notify company of payment: %v", err)
	}
	l.logger.Info("premium paid",
		"request_id", req.ID,
		"amount", req.Payment.Amount,
		"currency", req.Payment.Currency,
	)
	return nil
}

func (l *Lifecycle) notify(ctx context.Context, tx pgx.Tx, req InsuranceRequest, event notification.Event, recipient notification.Recipient) error {
	n := notification.Notification{
		Event:     event,
		Channel:   notification.ChannelEmail,
		Recipient: recipient,
		Product:   string(req.Product),
		RequestID: req.ID,
		Payload: map[string]any{
			"requester_name":  req.Requester.Name,
			"requester_email": req.Requester.Email,
			"requester_phone": req.Requester.Phone,
			"type":            string(req.Type),
		},
	}
	return l.notifier.Send(ctx, tx, n)
}

func (l *Lifecycle) count(event string) {
	if l.metrics != nil {
		l.metrics.Transitions.WithLabelValues(event).Inc()
	}
}

// countNotifications reports outbox rows that actually committed; it runs
// after the transaction like the other counters so a rollback leaves the
// counter untouched.
func (l *Lifecycle) countNotifications(n int) {
	if l.metrics != nil && n > 0 {
		l.metrics.NotificationsEnqueued.Add(float64(n))
	}
}

func requireIssueArgs(actorID, agreementNumber string) error {
	if actorID == "" {
		return badArg("actorID", "required")
	}
	if agreementNumber == "" {
		return badArg("agreementNumber", "required")
	}
	return nil
}
