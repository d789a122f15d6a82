package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/metrics"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	pdfutil "github.com/dharsanguruparan/PaperDrop/internal/pdf"
	"github.com/dharsanguruparan/PaperDrop/internal/pdf/pdftest"
)

type fakeSession struct {
	mu            sync.Mutex
	authenticated bool
	redirects     []string
}

func (s *fakeSession) CheckSession(ctx context.Context) model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated {
		return model.SessionState{Status: model.SessionAuthenticated, TokenPresent: true}
	}
	return model.SessionState{Status: model.SessionUnauthenticated}
}

func (s *fakeSession) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "Bearer tok", s.authenticated
}

func (s *fakeSession) RedirectToLogin(ctx context.Context, fromPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects = append(s.redirects, fromPath)
	return nil
}

func (s *fakeSession) redirectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redirects)
}

// fakeBackend counts calls and delegates to optional function fields.
type fakeBackend struct {
	parse           func(ctx context.Context, file model.SourceFile) (*model.ParsedDocument, error)
	createPaper     func(meta model.PaperMeta) (*model.Paper, error)
	createQuestions func(paperID string, item model.ParsedItem) error

	parseCalls    atomic.Int32
	paperCalls    atomic.Int32
	questionCalls atomic.Int32
}

func (b *fakeBackend) ParsePaper(ctx context.Context, credential string, file model.SourceFile) (*model.ParsedDocument, error) {
	b.parseCalls.Add(1)
	if b.parse != nil {
		return b.parse(ctx, file)
	}
	return threeItems(), nil
}

func (b *fakeBackend) CreatePaper(ctx context.Context, credential string, meta model.PaperMeta) (*model.Paper, error) {
	b.paperCalls.Add(1)
	if b.createPaper != nil {
		return b.createPaper(meta)
	}
	p := meta.Paper()
	p.ID = "p1"
	return &p, nil
}

func (b *fakeBackend) CreateQuestions(ctx context.Context, credential, paperID string, items []model.ParsedItem) ([]model.Question, error) {
	b.questionCalls.Add(1)
	out := make([]model.Question, 0, len(items))
	for _, item := range items {
		if b.createQuestions != nil {
			if err := b.createQuestions(paperID, item); err != nil {
				return nil, err
			}
		}
		out = append(out, model.Question{ID: "q-" + item.ID, PaperID: paperID, ClientID: item.ID, ParsedItem: item})
	}
	return out, nil
}

type fakeArchiver struct {
	keys []string
}

func (a *fakeArchiver) Archive(ctx context.Context, paperID string, file model.SourceFile) (string, error) {
	key := "uploads/" + paperID + "/" + file.Name
	a.keys = append(a.keys, key)
	return key, nil
}

func threeItems() *model.ParsedDocument {
	return &model.ParsedDocument{
		Meta: model.PaperMeta{Title: "Maths P1", Subject: "Mathematics"},
		Items: []model.ParsedItem{
			{ID: "i1", Text: "Solve x", Kind: "calculation", PointValue: 2},
			{ID: "i2", Text: "Sketch y", Kind: "graph", PointValue: 3},
			{Text: "Name it", Kind: "short answer", PointValue: 1},
		},
	}
}

func pdfFile(size int) model.SourceFile {
	return model.SourceFile{
		Name:        "2019-nat5-mathematics-paper1.pdf",
		ContentType: "application/pdf",
		Data:        pdftest.Padded(size, "Total marks - 60"),
	}
}

func newController(t *testing.T, b *fakeBackend, opts Options) (*Controller, *fakeSession) {
	t.Helper()
	s := &fakeSession{authenticated: true}
	c := New(s, b, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func parsed(t *testing.T, c *Controller) model.UploadDraft {
	t.Helper()
	require.NoError(t, c.SelectFile(pdfFile(1024)))
	draft, err := c.Upload(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.DraftParsed, draft.Status)
	return draft
}

func TestUploadAndSaveScenario(t *testing.T) {
	b := &fakeBackend{}
	archiver := &fakeArchiver{}
	c, s := newController(t, b, Options{Inspect: pdfutil.Inspect, Archiver: archiver})

	file := pdfFile(2 << 20)
	require.GreaterOrEqual(t, len(file.Data), 2<<20)
	require.NoError(t, c.SelectFile(file))
	assert.Equal(t, model.DraftFileSelected, c.Draft().Status)
	require.NotNil(t, c.Draft().Preflight)
	assert.Equal(t, 2019, c.Draft().Meta.Year)

	draft, err := c.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DraftParsed, draft.Status)
	require.Len(t, draft.Items, 3)
	assert.NotEmpty(t, draft.Items[2].ID, "missing ids are assigned")
	assert.Equal(t, model.KindShortAnswer, draft.Items[2].Kind)
	assert.Equal(t, "mathematics", draft.Meta.Subject)
	assert.Equal(t, "Maths P1", draft.Meta.Title)
	assert.Equal(t, 2019, draft.Meta.Year, "preflight fills what the parser left empty")

	result, err := c.ApproveAndSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", result.PaperID)
	assert.Len(t, result.Questions, 3)
	assert.Equal(t, "i1", result.Questions[0].ClientID)
	assert.Equal(t, int32(1), b.paperCalls.Load())
	assert.Equal(t, int32(3), b.questionCalls.Load())
	assert.Equal(t, "uploads/p1/2019-nat5-mathematics-paper1.pdf", result.ArchiveKey)

	final := c.Draft()
	assert.Equal(t, model.DraftSaved, final.Status)
	assert.Nil(t, final.Source)
	assert.Empty(t, final.Items)
	assert.Zero(t, s.redirectCount())
}

func TestUploadUnauthorizedRedirectsOnce(t *testing.T) {
	b := &fakeBackend{parse: func(ctx context.Context, file model.SourceFile) (*model.ParsedDocument, error) {
		return nil, apperror.FromResponse(401, []byte(`{"detail":"Token has expired"}`))
	}}
	c, s := newController(t, b, Options{CurrentPath: "/upload"})

	require.NoError(t, c.SelectFile(pdfFile(512)))
	_, err := c.Upload(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.IsAuth(err))
	assert.NotEqual(t, apperror.KindNetwork, apperror.KindOf(err))

	assert.Equal(t, []string{"/upload"}, s.redirects)
	draft := c.Draft()
	assert.Equal(t, model.DraftFileSelected, draft.Status)
	assert.Nil(t, draft.Error)
	assert.NotNil(t, draft.Source)
}

func TestUploadRequiresSession(t *testing.T) {
	b := &fakeBackend{}
	c, s := newController(t, b, Options{})
	s.authenticated = false

	require.NoError(t, c.SelectFile(pdfFile(512)))
	_, err := c.Upload(context.Background())
	assert.Equal(t, apperror.KindAuthExpired, apperror.KindOf(err))
	assert.Equal(t, 1, s.redirectCount())
	assert.Zero(t, b.parseCalls.Load())
	assert.Equal(t, model.DraftFileSelected, c.Draft().Status)
}

func TestSelectFileValidation(t *testing.T) {
	tests := []struct {
		name string
		file model.SourceFile
	}{
		{"oversized declared size", model.SourceFile{Name: "big.pdf", ContentType: "application/pdf", Size: 11 << 20}},
		{"wrong type", model.SourceFile{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")}},
		{"empty", model.SourceFile{Name: "empty.pdf", ContentType: "application/pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			c, _ := newController(t, b, Options{})

			err := c.SelectFile(tt.file)
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
			assert.Equal(t, model.DraftIdle, c.Draft().Status)

			_, err = c.Upload(context.Background())
			assert.ErrorIs(t, err, ErrNoFile)
			assert.Zero(t, b.parseCalls.Load()+b.paperCalls.Load()+b.questionCalls.Load())
		})
	}
}

func TestUploadFailureKeepsFileForRetry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := &fakeBackend{parse: func(ctx context.Context, file model.SourceFile) (*model.ParsedDocument, error) {
		if fail.Load() {
			return nil, apperror.FromResponse(502, []byte("parser unavailable"))
		}
		return threeItems(), nil
	}}
	c, _ := newController(t, b, Options{})

	require.NoError(t, c.SelectFile(pdfFile(512)))
	draft, err := c.Upload(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.DraftFailed, draft.Status)
	require.NotNil(t, draft.Error)
	assert.Equal(t, "parser unavailable", draft.Error.Message)
	assert.Equal(t, model.StageUpload, draft.Error.Stage)
	assert.NotNil(t, draft.Source)

	fail.Store(false)
	draft, err = c.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DraftParsed, draft.Status)
	assert.Nil(t, draft.Error)
}

func TestPartialSaveThenRetryChildren(t *testing.T) {
	var failI2 atomic.Bool
	failI2.Store(true)
	b := &fakeBackend{createQuestions: func(paperID string, item model.ParsedItem) error {
		if item.ID == "i2" && failI2.Load() {
			return apperror.FromResponse(500, []byte(`{"error":"database busy"}`))
		}
		return nil
	}}
	c, _ := newController(t, b, Options{ChildConcurrency: 2})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	var partial *PartialSaveError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "p1", partial.PaperID)
	assert.Equal(t, []string{"i2"}, partial.FailedIDs())
	assert.Equal(t, 2, partial.Saved)
	assert.Equal(t, apperror.KindPartialPersistence, apperror.KindOf(err))
	assert.False(t, apperror.IsAuth(err))

	draft := c.Draft()
	assert.Equal(t, model.DraftFailed, draft.Status)
	assert.Equal(t, StepCreateChildren, draft.Error.Step)
	assert.Equal(t, "p1", draft.Saga.PaperID)
	assert.Len(t, draft.Items, 3, "items are retained")

	paperID, pending, err := c.PendingChildren()
	require.NoError(t, err)
	assert.Equal(t, "p1", paperID)
	require.Len(t, pending, 1)
	assert.Equal(t, "i2", pending[0].ID)

	failI2.Store(false)
	result, err := c.RetryChildren(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", result.PaperID)
	require.Len(t, result.Questions, 1)
	assert.Equal(t, "i2", result.Questions[0].ClientID)
	assert.Equal(t, int32(1), b.paperCalls.Load(), "the container is created once")
	assert.Equal(t, int32(4), b.questionCalls.Load())
	assert.Equal(t, model.DraftSaved, c.Draft().Status)
}

func TestApproveAgainResumesSaga(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := &fakeBackend{createQuestions: func(paperID string, item model.ParsedItem) error {
		if fail.Load() {
			return errors.New("boom")
		}
		return nil
	}}
	c, _ := newController(t, b, Options{})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	require.Error(t, err)

	fail.Store(false)
	_, err = c.ApproveAndSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.paperCalls.Load())
}

func TestContainerFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := &fakeBackend{createPaper: func(meta model.PaperMeta) (*model.Paper, error) {
		if fail.Load() {
			return nil, apperror.FromResponse(422, []byte(`{"error":"title too long"}`))
		}
		p := meta.Paper()
		p.ID = "p1"
		return &p, nil
	}}
	c, _ := newController(t, b, Options{})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, StepCreateContainer, saveErr.Step)
	assert.Equal(t, "title too long", apperror.SafeMessage(err))
	assert.Zero(t, b.questionCalls.Load())

	_, err = c.RetryChildren(context.Background())
	assert.ErrorIs(t, err, ErrNoSaga)

	require.NoError(t, c.SetMeta(model.PaperMeta{Title: "Short", Subject: "physics"}))
	fail.Store(false)
	result, err := c.ApproveAndSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", result.PaperID)
}

func TestContainerUnauthorizedAfterFailureKeepsDraftRetryable(t *testing.T) {
	var calls atomic.Int32
	b := &fakeBackend{createPaper: func(meta model.PaperMeta) (*model.Paper, error) {
		switch calls.Add(1) {
		case 1:
			return nil, apperror.FromResponse(500, []byte(`{"error":"database busy"}`))
		case 2:
			return nil, apperror.FromResponse(401, []byte(`{"error":"expired"}`))
		}
		p := meta.Paper()
		p.ID = "p1"
		return &p, nil
	}}
	c, s := newController(t, b, Options{})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	require.Error(t, err)
	require.Equal(t, model.DraftFailed, c.Draft().Status)

	_, err = c.ApproveAndSave(context.Background())
	require.True(t, apperror.IsAuth(err))
	assert.Equal(t, 1, s.redirectCount())

	draft := c.Draft()
	assert.Equal(t, model.DraftFailed, draft.Status)
	require.NotNil(t, draft.Error)
	assert.Equal(t, model.StageSave, draft.Error.Stage)
	assert.Equal(t, StepCreateContainer, draft.Error.Step)
	require.NoError(t, c.SetMeta(model.PaperMeta{Title: "Maths P1", Subject: "mathematics"}))

	result, err := c.ApproveAndSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", result.PaperID)
	assert.Len(t, result.Questions, 3)
	assert.Equal(t, model.DraftSaved, c.Draft().Status)
}

func TestUploadReplacesDuplicateItemIDs(t *testing.T) {
	b := &fakeBackend{parse: func(ctx context.Context, file model.SourceFile) (*model.ParsedDocument, error) {
		return &model.ParsedDocument{
			Meta: model.PaperMeta{Title: "Maths P1"},
			Items: []model.ParsedItem{
				{ID: "q1", Text: "Solve x"},
				{ID: "q1", Text: "Solve y"},
				{ID: "q2", Text: "Sketch z"},
			},
		}, nil
	}}
	c, _ := newController(t, b, Options{})
	draft := parsed(t, c)

	require.Len(t, draft.Items, 3)
	assert.Equal(t, "q1", draft.Items[0].ID)
	assert.NotEqual(t, "q1", draft.Items[1].ID)
	assert.NotEmpty(t, draft.Items[1].ID)
	assert.Equal(t, "q2", draft.Items[2].ID)

	result, err := c.ApproveAndSave(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Questions, 3)
	assert.Equal(t, int32(3), b.questionCalls.Load())
}

func TestSaveRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &fakeBackend{createQuestions: func(paperID string, item model.ParsedItem) error {
		if item.ID == "i2" {
			return apperror.FromResponse(500, []byte(`{"error":"database busy"}`))
		}
		return nil
	}}
	c, _ := newController(t, b, Options{Metrics: metrics.New(reg)})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	var partial *PartialSaveError
	require.ErrorAs(t, err, &partial)

	expected := `
# HELP paperdrop_workflow_child_saves_total Item saves, by outcome.
# TYPE paperdrop_workflow_child_saves_total counter
paperdrop_workflow_child_saves_total{result="failed"} 1
paperdrop_workflow_child_saves_total{result="ok"} 2
# HELP paperdrop_workflow_uploads_total Upload attempts, by outcome.
# TYPE paperdrop_workflow_uploads_total counter
paperdrop_workflow_uploads_total{result="parsed"} 1
paperdrop_workflow_uploads_total{result="partial"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"paperdrop_workflow_child_saves_total", "paperdrop_workflow_uploads_total"))
}

func TestChildUnauthorizedRedirects(t *testing.T) {
	b := &fakeBackend{createQuestions: func(paperID string, item model.ParsedItem) error {
		return apperror.FromResponse(401, []byte(`{"error":"expired"}`))
	}}
	c, s := newController(t, b, Options{})
	parsed(t, c)

	_, err := c.ApproveAndSave(context.Background())
	var partial *PartialSaveError
	require.ErrorAs(t, err, &partial)
	require.NotEmpty(t, partial.Failed)
	assert.True(t, apperror.IsAuth(partial.Failed[0].Err))
	assert.Equal(t, 1, s.redirectCount())
	assert.Equal(t, "p1", c.Draft().Saga.PaperID)
}

func TestSaveRequiresParsedDraft(t *testing.T) {
	c, _ := newController(t, &fakeBackend{}, Options{})
	_, err := c.ApproveAndSave(context.Background())
	assert.ErrorIs(t, err, ErrNotParsed)

	_, _, err = c.PendingChildren()
	assert.ErrorIs(t, err, ErrNoSaga)
}

func TestReviewOperations(t *testing.T) {
	c, _ := newController(t, &fakeBackend{}, Options{})
	draft := parsed(t, c)

	err := c.SetMeta(model.PaperMeta{Title: "x", Subject: "alchemy"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	item := draft.Items[0]
	item.Text = "Solve for y"
	item.Kind = "Multiple Choice"
	require.NoError(t, c.UpdateItem(item))
	assert.Equal(t, "Solve for y", c.Draft().Items[0].Text)
	assert.Equal(t, model.KindMultipleChoice, c.Draft().Items[0].Kind)

	assert.Error(t, c.UpdateItem(model.ParsedItem{ID: "missing", Text: "x"}))
	assert.Error(t, c.UpdateItem(model.ParsedItem{ID: item.ID}))

	require.NoError(t, c.RemoveItem(draft.Items[1].ID))
	assert.Len(t, c.Draft().Items, 2)

	require.NoError(t, c.Reset())
	assert.Equal(t, model.DraftIdle, c.Draft().Status)
	assert.ErrorIs(t, c.RemoveItem(item.ID), ErrNotParsed)
}

func TestDraftIsACopy(t *testing.T) {
	c, _ := newController(t, &fakeBackend{}, Options{})
	draft := parsed(t, c)
	draft.Items[0].Text = "mutated"
	assert.NotEqual(t, "mutated", c.Draft().Items[0].Text)
}

func TestBusyAndClose(t *testing.T) {
	started := make(chan struct{})
	b := &fakeBackend{parse: func(ctx context.Context, file model.SourceFile) (*model.ParsedDocument, error) {
		close(started)
		<-ctx.Done()
		return nil, apperror.NewNetwork(ctx.Err())
	}}
	c, _ := newController(t, b, Options{})
	require.NoError(t, c.SelectFile(pdfFile(512)))

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(context.Background())
		done <- err
	}()
	<-started

	_, err := c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.SelectFile(pdfFile(512)), ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not aborted by Close")
	}
	assert.Equal(t, model.DraftUploading, c.Draft().Status, "the aborted result is not applied")

	_, err = c.Upload(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPartialSaveErrorMessage(t *testing.T) {
	err := &PartialSaveError{PaperID: "p9", Saved: 2, Failed: []ChildFailure{{ItemID: "a", Err: fmt.Errorf("x")}}}
	assert.Equal(t, "1 of 3 questions could not be saved to paper p9", err.Error())
}
