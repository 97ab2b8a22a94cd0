package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"docstrat/pkg/domain"
)

const fallbackEmail = "unknown@example.com"

// EnsureUser registers the token subject on first sight. The upsert is
// race-safe; concurrent first requests both succeed.
func (a *App) EnsureUser(ctx context.Context, id, email string) (domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.User{}, errors.New("user id required")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = fallbackEmail
	}
	return a.store.UpsertUser(domain.User{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	})
}
