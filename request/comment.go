package request

import (
	"context"
	"fmt"
	"time"
)

const commentTimestampLayout = "2006-01-02 15:04:05"

// Comment prepends a timestamped, attributed line to the request note. Notes
// are free-form and allowed in any status.
func (l *Lifecycle) Comment(ctx context.Context, id, actorName, message string) (InsuranceRequest, error) {
	if actorName == "" {
		return InsuranceRequest{}, badArg("actorName", "required")
	}
	if message == "" {
		return InsuranceRequest{}, badArg("message", "required")
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

	line := fmt.Sprintf("%s %s\n%s", l.now().Truncate(time.Second).Format(commentTimestampLayout), actorName, message)
	req.Note = fmt.Sprintf("\n%s\n%s", line, req.Note)

	saved, err := l.repo.Update(ctx, tx, req)
	if err != nil {
		return InsuranceRequest{}, internalf("save comment: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return InsuranceRequest{}, fmt.Errorf("request: commit tx: %w", err)
	}
	return saved, nil
}
