package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// ApproveAndSave persists the reviewed draft: the container first unless the
// saga already holds its ID, then one child record per unsaved item.
func (c *Controller) ApproveAndSave(ctx context.Context) (*SaveResult, error) {
	return c.save(ctx, false)
}

// RetryChildren re-runs only the child step of a partially saved draft. The
// container is never re-created.
func (c *Controller) RetryChildren(ctx context.Context) (*SaveResult, error) {
	return c.save(ctx, true)
}

// PendingChildren returns the container ID and the items not yet saved under
// it, so they can be handed to the deferred retry queue.
func (c *Controller) PendingChildren() (string, []model.ParsedItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.draft.Saga.Started() || c.draft.Status == model.DraftSaved {
		return "", nil, ErrNoSaga
	}
	return c.draft.Saga.PaperID, c.pending(), nil
}

// pending lists unsaved items. Callers hold mu.
func (c *Controller) pending() []model.ParsedItem {
	out := make([]model.ParsedItem, 0, len(c.draft.Items))
	for _, item := range c.draft.Items {
		if !c.draft.Saga.Saved[item.ID] {
			out = append(out, item.Clone())
		}
	}
	return out
}

func (c *Controller) save(ctx context.Context, childrenOnly bool) (*SaveResult, error) {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if childrenOnly {
		if !c.draft.Saga.Started() || c.draft.Status == model.DraftSaved {
			c.mu.Unlock()
			return nil, ErrNoSaga
		}
	} else if c.draft.Status != model.DraftParsed && !c.saveRetryable() {
		c.mu.Unlock()
		return nil, ErrNotParsed
	}
	if len(c.draft.Items) == 0 {
		c.mu.Unlock()
		return nil, apperror.NewValidation("there are no questions to save")
	}
	if c.draft.Meta.Title == "" && !c.draft.Saga.Started() {
		c.mu.Unlock()
		return nil, apperror.NewValidation("a title is required")
	}
	c.gen++
	gen := c.gen
	prev := c.draft.Status
	prevErr := c.draft.Error
	c.draft.Status = model.DraftSaving
	c.draft.Error = nil
	meta := c.draft.Meta
	paperID := c.draft.Saga.PaperID
	items := c.pending()
	c.mu.Unlock()

	credential, err := c.credential(ctx)
	if err != nil {
		c.mu.Lock()
		if stale := c.current(gen); stale != nil {
			c.mu.Unlock()
			return nil, stale
		}
		c.draft.Status = prev
		c.draft.Error = prevErr
		c.mu.Unlock()
		c.redirect(ctx)
		return nil, err
	}

	callCtx, cancel := c.bind(ctx)
	defer cancel()

	if paperID == "" {
		paper, err := c.backend.CreatePaper(callCtx, credential, meta)
		if err != nil {
			return nil, c.containerFailed(ctx, gen, prev, prevErr, err)
		}
		c.mu.Lock()
		if stale := c.current(gen); stale != nil {
			c.mu.Unlock()
			c.logger.Warn("Container created after the draft was closed", "paper_id", paper.ID)
			return nil, stale
		}
		paperID = paper.ID
		c.draft.Saga = model.SaveSaga{PaperID: paperID, Saved: map[string]bool{}}
		c.mu.Unlock()
		c.logger.Info("Container created", "paper_id", paperID)
	}

	saved, failed := c.saveChildren(callCtx, credential, paperID, items)

	c.mu.Lock()
	if stale := c.current(gen); stale != nil {
		c.mu.Unlock()
		return nil, stale
	}
	if c.draft.Saga.Saved == nil {
		c.draft.Saga.Saved = map[string]bool{}
	}
	for _, q := range saved {
		c.draft.Saga.Saved[q.ClientID] = true
	}

	if len(failed) > 0 {
		partial := &PartialSaveError{PaperID: paperID, Failed: failed, Saved: len(c.draft.Saga.Saved)}
		c.draft.Status = model.DraftFailed
		c.draft.Error = &model.ErrorInfo{
			Kind:    string(apperror.KindPartialPersistence),
			Message: partial.Error(),
			Stage:   model.StageSave,
			Step:    StepCreateChildren,
		}
		c.opts.Metrics.UploadFinished("partial")
		c.mu.Unlock()

		c.logger.Warn("Some questions were not saved", "paper_id", paperID, "failed", len(failed))
		for _, f := range failed {
			if apperror.IsAuth(f.Err) {
				c.redirect(ctx)
				break
			}
		}
		return nil, partial
	}

	source := c.draft.Source
	c.draft = model.UploadDraft{Status: model.DraftSaved}
	c.opts.Metrics.UploadFinished("saved")
	c.mu.Unlock()

	result := &SaveResult{PaperID: paperID, Questions: saved}
	if c.opts.Archiver != nil && source != nil {
		key, err := c.opts.Archiver.Archive(ctx, paperID, *source)
		if err != nil {
			c.logger.Warn("Archiving the source file failed", "paper_id", paperID, "error", err)
		} else {
			result.ArchiveKey = key
		}
	}
	c.logger.Info("Paper saved", "paper_id", paperID, "questions", len(saved))
	return result, nil
}

// containerFailed records a failed container step. An auth failure puts the
// draft back the way it was before the attempt so it can be saved again after
// signing in.
func (c *Controller) containerFailed(ctx context.Context, gen uint64, prev model.DraftStatus, prevErr *model.ErrorInfo, err error) error {
	c.mu.Lock()
	if stale := c.current(gen); stale != nil {
		c.mu.Unlock()
		return stale
	}
	auth := apperror.IsAuth(err)
	if auth {
		c.draft.Status = prev
		c.draft.Error = prevErr
	} else {
		c.draft.Status = model.DraftFailed
		c.draft.Error = errorInfo(err, model.StageSave, StepCreateContainer)
	}
	c.opts.Metrics.UploadFinished("failed")
	c.mu.Unlock()

	if auth {
		c.redirect(ctx)
		return err
	}
	c.logger.Warn("Container creation failed", "error", err)
	return &SaveError{Step: StepCreateContainer, Err: err}
}

// saveChildren writes one child record per item with bounded concurrency.
// Every item is attempted; failures are collected rather than cancelling the
// rest.
func (c *Controller) saveChildren(ctx context.Context, credential, paperID string, items []model.ParsedItem) ([]model.Question, []ChildFailure) {
	var (
		mu     sync.Mutex
		saved  []model.Question
		failed []ChildFailure
	)
	g := c.newGroup()
	for _, item := range items {
		item := item
		g.Go(func() error {
			qs, err := c.backend.CreateQuestions(ctx, credential, paperID, []model.ParsedItem{item})
			if err == nil && len(qs) == 0 {
				err = apperror.NewMalformedResponse(fmt.Sprintf("no record returned for question %s", item.ID), nil)
			}
			c.opts.Metrics.ChildSaved(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, ChildFailure{ItemID: item.ID, Err: err})
				return nil
			}
			for _, q := range qs {
				if q.ClientID == "" {
					q.ClientID = item.ID
				}
				saved = append(saved, q)
			}
			return nil
		})
	}
	_ = g.Wait()

	order := make(map[string]int, len(items))
	for i, item := range items {
		order[item.ID] = i
	}
	sort.Slice(saved, func(i, j int) bool { return order[saved[i].ClientID] < order[saved[j].ClientID] })
	sort.Slice(failed, func(i, j int) bool { return order[failed[i].ItemID] < order[failed[j].ItemID] })
	return saved, failed
}
