package workflow

import (
	"errors"
	"fmt"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
)

var (
	// ErrBusy is returned while an upload or save is in flight.
	ErrBusy = errors.New("an upload or save is already in progress")
	// ErrNoFile is returned by Upload before a file was selected.
	ErrNoFile = errors.New("no file selected")
	// ErrNotParsed is returned by review and save operations before the
	// file was parsed.
	ErrNotParsed = errors.New("the paper has not been parsed")
	// ErrNoSaga is returned by RetryChildren and PendingChildren when no
	// container has been created yet.
	ErrNoSaga = errors.New("no partially saved paper to resume")
	// ErrInvalidState is returned for operations that do not apply to the
	// current draft status.
	ErrInvalidState = errors.New("operation not allowed in the current state")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workflow closed")
	// ErrStale is returned when a result arrived for a draft that is no
	// longer current. The result was discarded.
	ErrStale = errors.New("result discarded: the draft changed while the request was in flight")
)

// Saga steps reported by SaveError.
const (
	StepCreateContainer = "create_container"
	StepCreateChildren  = "create_children"
)

// SaveError reports a failure of the container step. Nothing was written.
type SaveError struct {
	Step string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save failed at %s: %s", e.Step, apperror.SafeMessage(e.Err))
}

func (e *SaveError) Unwrap() error { return e.Err }

// ChildFailure is one item that could not be written.
type ChildFailure struct {
	ItemID string
	Err    error
}

// PartialSaveError reports a container that exists with some children
// missing. RetryChildren resumes from here without re-creating the container.
type PartialSaveError struct {
	PaperID string
	Failed  []ChildFailure
	Saved   int
}

func (e *PartialSaveError) Error() string {
	return e.message()
}

func (e *PartialSaveError) message() string {
	return fmt.Sprintf("%d of %d questions could not be saved to paper %s",
		len(e.Failed), len(e.Failed)+e.Saved, e.PaperID)
}

// Unwrap exposes the partial_persistence AppError first, then every child
// failure, so apperror.KindOf reports the partial state while errors.As can
// still reach an auth failure among the children.
func (e *PartialSaveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	errs = append(errs, apperror.NewPartialPersistence(e.message()))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedIDs lists the item IDs that were not saved.
func (e *PartialSaveError) FailedIDs() []string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.ItemID
	}
	return ids
}
