package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

var users = map[string]string{"teacher": "pw"}

// stores returns every backend the contract runs against. Postgres joins
// when PAPERDROP_TEST_DATABASE_URL points at a scratch database.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewMemoryStore(users)}
	if dsn := os.Getenv("PAPERDROP_TEST_DATABASE_URL"); dsn != "" {
		pg, err := OpenPostgres(context.Background(), dsn, users)
		require.NoError(t, err)
		_, err = pg.pool.Exec(context.Background(), `TRUNCATE papers CASCADE`)
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		out["postgres"] = pg
	}
	return out
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Authenticate(ctx, "teacher", "pw"))
			assert.ErrorIs(t, s.Authenticate(ctx, "teacher", "nope"), ErrBadCredentials)
			assert.ErrorIs(t, s.Authenticate(ctx, "ghost", "pw"), ErrBadCredentials)
		})
	}
}

func TestAddQuestionsIsIdempotentPerClientID(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			p, err := s.CreatePaper(ctx, model.PaperMeta{Title: "Maths P1", Subject: "mathematics", Year: 2019})
			require.NoError(t, err)
			require.NotEmpty(t, p.ID)

			item := model.ParsedItem{ID: "c1", Text: "Solve x", Kind: model.KindCalculation, PointValue: 2, Options: []string{"a", "b"}}
			first, err := s.AddQuestions(ctx, p.ID, []model.ParsedItem{item})
			require.NoError(t, err)
			again, err := s.AddQuestions(ctx, p.ID, []model.ParsedItem{item, {ID: "c2", Text: "Explain"}})
			require.NoError(t, err)
			require.Len(t, again, 2)

			assert.Equal(t, first[0].ID, again[0].ID)
			all, err := s.ListQuestions(ctx, p.ID)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "c1", all[0].ClientID)
			assert.Equal(t, []string{"a", "b"}, all[0].Options)
			assert.Equal(t, "c2", all[1].ClientID)

			got, err := s.GetPaper(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, 2019, got.Year)
		})
	}
}

func TestUnknownPaper(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.AddQuestions(ctx, "missing", []model.ParsedItem{{ID: "x"}})
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.GetPaper(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.ListQuestions(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListPapersReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	_, _ = s.CreatePaper(ctx, model.PaperMeta{Title: "A"})
	_, _ = s.CreatePaper(ctx, model.PaperMeta{Title: "B"})

	papers, err := s.ListPapers(ctx)
	require.NoError(t, err)
	require.Len(t, papers, 2)
	papers[0].Title = "mutated"
	again, _ := s.ListPapers(ctx)
	for _, p := range again {
		assert.NotEqual(t, "mutated", p.Title)
	}
}
