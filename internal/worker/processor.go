// Package worker runs deferred child saves pulled from the asynq queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/queue"
	"github.com/dharsanguruparan/PaperDrop/internal/session"
)

// QuestionWriter writes child records. *api.Client implements it.
type QuestionWriter interface {
	CreateQuestions(ctx context.Context, credential, paperID string, items []model.ParsedItem) ([]model.Question, error)
}

// CredentialSource reads the stored credential. *tokenstore.Slot implements
// it.
type CredentialSource interface {
	Get(ctx context.Context) (string, bool, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	writer    QuestionWriter
	creds     CredentialSource
	validator session.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewProcessor constructs a worker processor. A nil logger falls back to
// slog.Default; m may be nil.
func NewProcessor(writer QuestionWriter, creds CredentialSource, validator session.Validator, logger *slog.Logger, m *metrics.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		writer:    writer,
		creds:     creds,
		validator: validator,
		logger:    logger.With("component", "worker"),
		metrics:   m,
		now:       time.Now,
	}
}

// Handler registers the retry job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RetryChildrenTask, p.handleRetryChildren)
	return mux
}

// handleRetryChildren saves the payload's items under their container. Jobs
// that cannot succeed by retrying (bad payload, missing or expired
// credential, rejected input) are marked with asynq.SkipRetry.
func (p *Processor) handleRetryChildren(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeRetryChildren(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger := p.logger.With("paper_id", payload.PaperID, "items", len(payload.Items))

	credential, ok, err := p.creds.Get(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		logger.Warn("No stored credential, dropping retry job")
		return fmt.Errorf("not signed in: %w", asynq.SkipRetry)
	}
	if p.validator != nil && p.validator.Validate(credential, p.now()) != session.Valid {
		logger.Warn("Stored credential is no longer valid, dropping retry job")
		return fmt.Errorf("session expired: %w", asynq.SkipRetry)
	}

	saved, err := p.writer.CreateQuestions(ctx, credential, payload.PaperID, payload.Items)
	p.metrics.ChildrenSaved(len(payload.Items), err == nil)
	if err != nil {
		switch apperror.KindOf(err) {
		case apperror.KindUnauthorized, apperror.KindForbidden, apperror.KindValidation:
			logger.Warn("Retry rejected by the server", "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Warn("Retry failed, will try again", "error", err)
		return err
	}
	logger.Info("Deferred questions saved", "saved", len(saved))
	return nil
}
