package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// PostgresStore keeps papers and questions in Postgres. Users still come from
// configuration.
type PostgresStore struct {
	pool  *pgxpool.Pool
	users map[string]string
}

// OpenPostgres opens a pgx connection pool using the provided DSN and creates
// the schema if needed.
func OpenPostgres(ctx context.Context, dsn string, users map[string]string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, users: copyUsers(users)}, nil
}

// ensureSchema creates the tables on first start. The migration lives in
// code so a fresh database needs no separate step.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS papers (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	subject TEXT NOT NULL,
	year INTEGER NOT NULL DEFAULT 0,
	total_marks INTEGER NOT NULL DEFAULT 0,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	paper_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS questions (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	paper_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
	client_id TEXT,
	item JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (paper_id, client_id)
);
CREATE INDEX IF NOT EXISTS idx_questions_paper ON questions(paper_id, seq);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Authenticate checks a username/password pair.
func (s *PostgresStore) Authenticate(_ context.Context, username, password string) error {
	return checkPassword(s.users, username, password)
}

// CreatePaper inserts a paper and assigns its ID.
func (s *PostgresStore) CreatePaper(ctx context.Context, meta model.PaperMeta) (*model.Paper, error) {
	p := meta.Paper()
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO papers (id, title, subject, year, total_marks, duration_minutes, paper_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, p.Title, p.Subject, p.Year, p.TotalMarks, p.DurationMinutes, p.PaperType, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert paper: %w", err)
	}
	return &p, nil
}

const paperColumns = `id, title, subject, year, total_marks, duration_minutes, paper_type, created_at`

func scanPaper(row pgx.Row) (model.Paper, error) {
	var p model.Paper
	err := row.Scan(&p.ID, &p.Title, &p.Subject, &p.Year, &p.TotalMarks, &p.DurationMinutes, &p.PaperType, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

// GetPaper returns a paper by id.
func (s *PostgresStore) GetPaper(ctx context.Context, id string) (*model.Paper, error) {
	p, err := scanPaper(s.pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select paper: %w", err)
	}
	return &p, nil
}

// ListPapers returns every paper, newest first.
func (s *PostgresStore) ListPapers(ctx context.Context) ([]model.Paper, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+paperColumns+` FROM papers ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select papers: %w", err)
	}
	defer rows.Close()
	out := []model.Paper{}
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddQuestions stores items under paperID in one transaction. An item whose
// client ID is already stored for the paper is returned as is.
func (s *PostgresStore) AddQuestions(ctx context.Context, paperID string, items []model.ParsedItem) ([]model.Question, error) {
	out := make([]model.Question, 0, len(items))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM papers WHERE id=$1)`, paperID).Scan(&exists); err != nil {
			return fmt.Errorf("check paper: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, item := range items {
			q, err := insertQuestion(ctx, tx, paperID, item, now)
			if err != nil {
				return err
			}
			out = append(out, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertQuestion(ctx context.Context, tx pgx.Tx, paperID string, item model.ParsedItem, now time.Time) (model.Question, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return model.Question{}, fmt.Errorf("encode question: %w", err)
	}
	clientID := sql.NullString{String: item.ID, Valid: item.ID != ""}
	q := model.Question{ID: uuid.NewString(), PaperID: paperID, ClientID: item.ID, ParsedItem: item, CreatedAt: now}

	tag, err := tx.Exec(ctx, `
		INSERT INTO questions (id, paper_id, client_id, item, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (paper_id, client_id) DO NOTHING
	`, q.ID, paperID, clientID, body, now)
	if err != nil {
		return model.Question{}, fmt.Errorf("insert question: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return q, nil
	}
	existing, err := scanQuestion(tx.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE paper_id=$1 AND client_id=$2`, paperID, item.ID))
	if err != nil {
		return model.Question{}, fmt.Errorf("select existing question: %w", err)
	}
	return existing, nil
}

const questionColumns = `id, paper_id, client_id, item, created_at`

func scanQuestion(row pgx.Row) (model.Question, error) {
	var (
		q        model.Question
		clientID sql.NullString
		body     []byte
	)
	if err := row.Scan(&q.ID, &q.PaperID, &clientID, &body, &q.CreatedAt); err != nil {
		return q, err
	}
	if err := json.Unmarshal(body, &q.ParsedItem); err != nil {
		return q, fmt.Errorf("decode question %s: %w", q.ID, err)
	}
	q.ClientID = clientID.String
	q.CreatedAt = q.CreatedAt.UTC()
	return q, nil
}

// ListQuestions returns the questions of paperID in insertion order.
func (s *PostgresStore) ListQuestions(ctx context.Context, paperID string) ([]model.Question, error) {
	if _, err := s.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE paper_id=$1 ORDER BY seq`, paperID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()
	out := []model.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
