package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PaperDrop/internal/api"
	"github.com/dharsanguruparan/PaperDrop/internal/apperror"
	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/pdf/pdftest"
	"github.com/dharsanguruparan/PaperDrop/internal/signing"
	"github.com/dharsanguruparan/PaperDrop/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *api.Client) {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.MaxFileSize = 64 * 1024
	srv := New(cfg, storage.NewMemoryStore(map[string]string{"teacher": "pw"}), signing.NewSigner([]byte("test-secret")), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := api.New(ts.URL, api.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return ts, client
}

func login(t *testing.T, c *api.Client) string {
	t.Helper()
	token, err := c.Login(context.Background(), "teacher", "pw")
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	_, c := newTestServer(t)
	code, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	_, c := newTestServer(t)
	_, err := c.Login(context.Background(), "teacher", "wrong")
	require.Error(t, err)
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))
	assert.Equal(t, "Incorrect username or password", apperror.SafeMessage(err))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, c := newTestServer(t)
	_, err := c.ListPapers(context.Background(), "")
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))

	_, err = c.ListPapers(context.Background(), "Bearer not.a.token")
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))
	assert.Equal(t, "Could not validate credentials", apperror.SafeMessage(err))
}

func TestUploadParseAndPersist(t *testing.T) {
	_, c := newTestServer(t)
	token := login(t, c)
	ctx := context.Background()

	data := pdftest.Build(
		"National 5 Mathematics\nTotal marks - 60",
		"1. Solve 3x + 1 = 7 (2 marks)\n2. Sketch the graph of y = x (3 marks)",
	)
	doc, err := c.ParsePaper(ctx, token, model.SourceFile{Name: "2019-nat5-mathematics-paper1.pdf", Data: data})
	require.NoError(t, err)
	assert.Equal(t, 2019, doc.Meta.Year)
	assert.Equal(t, "mathematics", doc.Meta.Subject)
	assert.Equal(t, "paper1", doc.Meta.PaperType)
	require.NotEmpty(t, doc.Items)
	for _, item := range doc.Items {
		assert.NotEmpty(t, item.ID)
	}

	paper, err := c.CreatePaper(ctx, token, model.PaperMeta{Title: "Maths P1", Subject: "Mathematics", Year: 2019})
	require.NoError(t, err)
	assert.Equal(t, "mathematics", paper.Subject)

	saved, err := c.CreateQuestions(ctx, token, paper.ID, doc.Items)
	require.NoError(t, err)
	assert.Len(t, saved, len(doc.Items))

	// Writing the same items again does not duplicate them.
	_, err = c.CreateQuestions(ctx, token, paper.ID, doc.Items)
	require.NoError(t, err)
	listed, err := c.ListQuestions(ctx, token, paper.ID)
	require.NoError(t, err)
	assert.Len(t, listed, len(doc.Items))
	assert.Equal(t, doc.Items[0].ID, listed[0].ClientID)

	papers, err := c.ListPapers(ctx, token)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, paper.ID, papers[0].ID)
}

func TestParseRejectsNonPDF(t *testing.T) {
	_, c := newTestServer(t)
	token := login(t, c)

	_, err := c.ParsePaper(context.Background(), token, model.SourceFile{Name: "notes.txt", Data: []byte("plain text")})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Equal(t, "only PDF files supported", apperror.SafeMessage(err))
}

func TestParseRejectsOversizedFile(t *testing.T) {
	_, c := newTestServer(t)
	token := login(t, c)

	_, err := c.ParsePaper(context.Background(), token, model.SourceFile{Name: "big.pdf", Data: pdftest.Padded(128*1024, "x")})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCreatePaperValidation(t *testing.T) {
	_, c := newTestServer(t)
	token := login(t, c)

	_, err := c.CreatePaper(context.Background(), token, model.PaperMeta{Subject: "mathematics"})
	assert.Equal(t, "title is required", apperror.SafeMessage(err))

	_, err = c.CreatePaper(context.Background(), token, model.PaperMeta{Title: "x", Subject: "alchemy"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestCreateQuestionsUnknownPaper(t *testing.T) {
	_, c := newTestServer(t)
	token := login(t, c)

	_, err := c.CreateQuestions(context.Background(), token, "missing", []model.ParsedItem{{ID: "a", Text: "x"}})
	assert.Equal(t, apperror.KindServer, apperror.KindOf(err))
	assert.Equal(t, "paper not found", apperror.SafeMessage(err))
}

func TestMultipartWithoutFilePart(t *testing.T) {
	ts, c := newTestServer(t)
	token := login(t, c)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/papers/pdf", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	msg, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(msg), "missing file part")
}
