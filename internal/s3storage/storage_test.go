package s3storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

func archiveConfig(endpoint string) config.ArchiveConfig {
	return config.ArchiveConfig{
		Enabled:   true,
		Endpoint:  endpoint,
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
		Bucket:    "paperdrop-sources",
		LinkTTL:   10 * time.Minute,
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "uploads/p1/paper.pdf", ObjectKey("p1", "paper.pdf"))
	assert.Equal(t, "uploads/p1/paper.pdf", ObjectKey("p1", "/home/me/papers/paper.pdf"))
	assert.Equal(t, "uploads/p1/source.pdf", ObjectKey("p1", ""))
}

func TestArchivePutsObject(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
		ct   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body, ct = r.URL.Path, data, r.Header.Get("Content-Type")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(archiveConfig(strings.TrimPrefix(srv.URL, "http://")), nil)
	require.NoError(t, err)

	key, err := store.Archive(context.Background(), "p1", model.SourceFile{Name: "paper.pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "uploads/p1/paper.pdf", key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/paperdrop-sources/uploads/p1/paper.pdf", path)
	assert.Equal(t, "application/pdf", ct)
	assert.Contains(t, string(body), "%PDF-1.4")
}

func TestPresignURL(t *testing.T) {
	store, err := New(archiveConfig("localhost:9000"), nil)
	require.NoError(t, err)

	raw, err := store.PresignURL(context.Background(), "uploads/p1/paper.pdf")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/paperdrop-sources/uploads/p1/paper.pdf", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestDownloadGetsObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/paperdrop-sources/uploads/p1/paper.pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "8")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	store, err := New(archiveConfig(strings.TrimPrefix(srv.URL, "http://")), nil)
	require.NoError(t, err)

	data, err := store.Download(context.Background(), "uploads/p1/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}
