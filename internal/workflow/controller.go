// Package workflow drives one paper through file selection, parsing, review
// and the two-step save: the container record first, then one child record
// per question. The save is a saga. The container step commits on its own and
// the child step can be retried alone, keyed by each item's client ID.
//
// A Controller owns a single draft. Its mutex is held only around state
// transitions, never across network calls. Every in-flight call captures the
// generation it started under and re-checks it before touching state, so
// results that arrive after Close are dropped.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// Session is the part of the session manager the workflow depends on.
type Session interface {
	CheckSession(ctx context.Context) model.SessionState
	Credential() (string, bool)
	RedirectToLogin(ctx context.Context, fromPath string) error
}

// Backend is the part of the Persistence API the workflow calls.
type Backend interface {
	ParsePaper(ctx context.Context, credential string, file model.SourceFile) (*model.ParsedDocument, error)
	CreatePaper(ctx context.Context, credential string, meta model.PaperMeta) (*model.Paper, error)
	CreateQuestions(ctx context.Context, credential, paperID string, items []model.ParsedItem) ([]model.Question, error)
}

// Archiver keeps a copy of the source file once its paper is saved.
type Archiver interface {
	Archive(ctx context.Context, paperID string, file model.SourceFile) (string, error)
}

// InspectFunc reads local metadata from a selected file.
type InspectFunc func(name string, data []byte) (*model.Preflight, error)

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	MaxFileSize      int64
	AllowedType      string
	ChildConcurrency int
	// CurrentPath is where the user returns after a login detour.
	CurrentPath string
	Archiver    Archiver
	Inspect     InspectFunc
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 10 << 20
	}
	if o.AllowedType == "" {
		o.AllowedType = "application/pdf"
	}
	if o.ChildConcurrency <= 0 {
		o.ChildConcurrency = 4
	}
	if o.CurrentPath == "" {
		o.CurrentPath = "/upload"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SaveResult describes a completed save.
type SaveResult struct {
	PaperID   string
	Questions []model.Question
	// ArchiveKey is where the source file was archived, empty when no
	// archiver is configured or archiving failed.
	ArchiveKey string
}

// Controller is the upload workflow state machine.
type Controller struct {
	session Session
	backend Backend
	opts    Options
	logger  *slog.Logger

	life   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	draft  model.UploadDraft
	gen    uint64
	closed bool
}

// New returns a Controller with an idle draft.
func New(session Session, backend Backend, opts Options) *Controller {
	opts.setDefaults()
	life, cancel := context.WithCancel(context.Background())
	return &Controller{
		session: session,
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.With("component", "workflow"),
		life:    life,
		cancel:  cancel,
		draft:   model.UploadDraft{Status: model.DraftIdle},
	}
}

// Draft returns a deep copy of the current draft.
func (c *Controller) Draft() model.UploadDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

func (c *Controller) busy() bool {
	return c.draft.Status == model.DraftUploading || c.draft.Status == model.DraftSaving
}

// guard returns the error for a call that cannot start at all.
func (c *Controller) guard() error {
	if c.closed {
		return ErrClosed
	}
	if c.busy() {
		return ErrBusy
	}
	return nil
}

// bind derives a call context that is also cancelled by Close.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// current reports whether gen is still the live generation. Callers hold mu.
func (c *Controller) current(gen uint64) error {
	if c.closed {
		return ErrClosed
	}
	if gen != c.gen {
		return ErrStale
	}
	return nil
}

// SelectFile validates file and makes it the draft's source. Validation
// happens before any network call; a rejected file leaves the draft as it was.
func (c *Controller) SelectFile(file model.SourceFile) error {
	if file.Size == 0 {
		file.Size = int64(len(file.Data))
	}
	if err := c.validateFile(file); err != nil {
		return err
	}

	var preflight *model.Preflight
	if c.opts.Inspect != nil && len(file.Data) > 0 {
		pf, err := c.opts.Inspect(file.Name, file.Data)
		if err != nil {
			c.logger.Warn("Preflight failed", "file", file.Name, "error", err)
		} else {
			preflight = pf
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	if c.draft.Saga.Started() && c.draft.Status != model.DraftSaved {
		c.logger.Warn("Discarding a partially saved paper", "paper_id", c.draft.Saga.PaperID)
	}
	c.gen++
	c.draft = model.UploadDraft{
		Status:    model.DraftFileSelected,
		Source:    &file,
		Preflight: preflight,
	}
	if preflight != nil {
		c.draft.Meta = preflight.Meta
	}
	return nil
}

func (c *Controller) validateFile(file model.SourceFile) error {
	if file.ContentType != c.opts.AllowedType {
		return apperror.NewValidation(fmt.Sprintf("only %s files can be uploaded", c.opts.AllowedType))
	}
	if file.Size <= 0 {
		return apperror.NewValidation("the selected file is empty")
	}
	if file.Size > c.opts.MaxFileSize {
		return apperror.NewValidation(fmt.Sprintf("the file is larger than the %s limit", humanSize(c.opts.MaxFileSize)))
	}
	return nil
}

// Upload sends the selected file to the parse service. On 401/403 the user
// is sent to login once and the draft returns to file_selected; any other
// failure leaves it failed with the file retained.
func (c *Controller) Upload(ctx context.Context) (model.UploadDraft, error) {
	c.mu.Lock()
	if err := c.guard(); err != nil {
		c.mu.Unlock()
		return model.UploadDraft{}, err
	}
	if c.draft.Source == nil {
		c.mu.Unlock()
		return model.UploadDraft{}, ErrNoFile
	}
	retryable := c.draft.Status == model.DraftFailed && c.draft.Error != nil && c.draft.Error.Stage == model.StageUpload
	if c.draft.Status != model.DraftFileSelected && !retryable {
		c.mu.Unlock()
		return model.UploadDraft{}, ErrInvalidState
	}
	c.gen++
	gen := c.gen
	c.draft.Status = model.DraftUploading
	c.draft.Error = nil
	file := *c.draft.Source
	c.mu.Unlock()

	credential, err := c.credential(ctx)
	if err != nil {
		return c.uploadFailed(ctx, gen, err)
	}

	callCtx, cancel := c.bind(ctx)
	defer cancel()
	doc, err := c.backend.ParsePaper(callCtx, credential, file)
	if err != nil {
		return c.uploadFailed(ctx, gen, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.current(gen); err != nil {
		return model.UploadDraft{}, err
	}
	// Item IDs key the saga and the backend's per-paper dedup, so a repeated
	// ID would hide a question. Repeats get a fresh ID.
	items := make([]model.ParsedItem, len(doc.Items))
	seen := make(map[string]bool, len(doc.Items))
	for i, item := range doc.Items {
		if item.ID == "" || seen[item.ID] {
			item.ID = uuid.NewString()
		}
		seen[item.ID] = true
		item.Kind = model.NormalizeKind(item.Kind)
		items[i] = item
	}
	meta := doc.Meta
	if subject, ok := model.NormalizeSubject(meta.Subject); ok {
		meta.Subject = subject
	} else {
		meta.Subject = ""
	}
	meta.FillFrom(c.draft.Meta)
	c.draft.Meta = meta
	c.draft.Items = items
	c.draft.Saga = model.SaveSaga{}
	c.draft.Status = model.DraftParsed
	c.opts.Metrics.UploadFinished("parsed")
	c.logger.Info("Paper parsed", "file", file.Name, "items", len(items))
	return c.draft.Clone(), nil
}

func (c *Controller) uploadFailed(ctx context.Context, gen uint64, err error) (model.UploadDraft, error) {
	c.mu.Lock()
	if stale := c.current(gen); stale != nil {
		c.mu.Unlock()
		return model.UploadDraft{}, stale
	}
	auth := apperror.IsAuth(err)
	if auth {
		c.draft.Status = model.DraftFileSelected
		c.opts.Metrics.UploadFinished("auth")
	} else {
		c.draft.Status = model.DraftFailed
		c.draft.Error = errorInfo(err, model.StageUpload, "")
		c.opts.Metrics.UploadFinished("failed")
		c.logger.Warn("Upload failed", "error", err)
	}
	draft := c.draft.Clone()
	c.mu.Unlock()

	if auth {
		c.redirect(ctx)
	}
	return draft, err
}

// SetMeta replaces the container metadata before the container exists.
func (c *Controller) SetMeta(meta model.PaperMeta) error {
	subject, ok := model.NormalizeSubject(meta.Subject)
	if !ok {
		return apperror.NewValidation(fmt.Sprintf("unknown subject %q", meta.Subject))
	}
	meta.Subject = subject
	if meta.Year < 0 || meta.TotalMarks < 0 || meta.DurationMinutes < 0 {
		return apperror.NewValidation("year, total marks and duration cannot be negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reviewable(); err != nil {
		return err
	}
	if c.draft.Saga.Started() {
		return ErrInvalidState
	}
	c.draft.Meta = meta
	return nil
}

// UpdateItem replaces the item with the same ID. Items already saved cannot
// be edited.
func (c *Controller) UpdateItem(item model.ParsedItem) error {
	if item.Text == "" {
		return apperror.NewValidation("question text cannot be empty")
	}
	if item.PointValue < 0 {
		return apperror.NewValidation("marks cannot be negative")
	}
	item.Kind = model.NormalizeKind(item.Kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reviewable(); err != nil {
		return err
	}
	i := c.indexOf(item.ID)
	if i < 0 {
		return apperror.NewValidation(fmt.Sprintf("no question with id %q", item.ID))
	}
	if c.draft.Saga.Saved[item.ID] {
		return apperror.NewValidation("this question is already saved")
	}
	c.draft.Items[i] = item
	return nil
}

// RemoveItem drops an unsaved item from the draft.
func (c *Controller) RemoveItem(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reviewable(); err != nil {
		return err
	}
	i := c.indexOf(id)
	if i < 0 {
		return apperror.NewValidation(fmt.Sprintf("no question with id %q", id))
	}
	if c.draft.Saga.Saved[id] {
		return apperror.NewValidation("this question is already saved")
	}
	c.draft.Items = append(c.draft.Items[:i], c.draft.Items[i+1:]...)
	return nil
}

func (c *Controller) reviewable() error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.draft.Status == model.DraftParsed || c.saveRetryable() {
		return nil
	}
	return ErrNotParsed
}

func (c *Controller) saveRetryable() bool {
	return c.draft.Status == model.DraftFailed && c.draft.Error != nil && c.draft.Error.Stage == model.StageSave
}

func (c *Controller) indexOf(id string) int {
	for i, item := range c.draft.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Reset discards the draft.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	c.gen++
	c.draft = model.UploadDraft{Status: model.DraftIdle}
	return nil
}

// Close aborts in-flight calls. Their results are discarded. Close is
// idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.mu.Unlock()
	c.cancel()
	return nil
}

// credential returns the bearer credential after a session check.
func (c *Controller) credential(ctx context.Context) (string, error) {
	if state := c.session.CheckSession(ctx); state.Authenticated() {
		if credential, ok := c.session.Credential(); ok {
			return credential, nil
		}
	}
	return "", apperror.NewAuthExpired("Please sign in to continue.")
}

func (c *Controller) redirect(ctx context.Context) {
	if err := c.session.RedirectToLogin(ctx, c.opts.CurrentPath); err != nil {
		c.logger.Warn("Login redirect failed", "error", err)
	}
}

func errorInfo(err error, stage model.Stage, step string) *model.ErrorInfo {
	return &model.ErrorInfo{
		Kind:    string(apperror.KindOf(err)),
		Message: apperror.SafeMessage(err),
		Stage:   stage,
		Step:    step,
	}
}

func humanSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

// newGroup returns an errgroup bounded to the configured child concurrency.
func (c *Controller) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(c.opts.ChildConcurrency)
	return g
}
