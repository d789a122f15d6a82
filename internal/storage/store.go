// Package storage contains the persistence layer of the development backend:
// an in-memory store for local runs and tests, and a Postgres store for a
// backend that survives restarts. Go keeps each package in its own folder;
// files in the folder share a namespace.
package storage

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is.
	ErrNotFound = errors.New("record not found")
	// ErrBadCredentials is returned by Authenticate for unknown users or
	// wrong passwords.
	ErrBadCredentials = errors.New("incorrect username or password")
)

// Store is what the HTTP handlers need from persistence. Writing the same
// item twice under one paper returns the first record instead of a copy.
type Store interface {
	Authenticate(ctx context.Context, username, password string) error
	CreatePaper(ctx context.Context, meta model.PaperMeta) (*model.Paper, error)
	GetPaper(ctx context.Context, id string) (*model.Paper, error)
	ListPapers(ctx context.Context) ([]model.Paper, error)
	AddQuestions(ctx context.Context, paperID string, items []model.ParsedItem) ([]model.Question, error)
	ListQuestions(ctx context.Context, paperID string) ([]model.Question, error)
	Close()
}

// checkPassword compares against the configured user table. Both stores
// keep users in configuration, not in the database.
func checkPassword(users map[string]string, username, password string) error {
	expected, ok := users[username]
	if !ok || expected != password {
		return ErrBadCredentials
	}
	return nil
}

func copyUsers(users map[string]string) map[string]string {
	u := make(map[string]string, len(users))
	for name, pass := range users {
		u[name] = pass
	}
	return u
}
