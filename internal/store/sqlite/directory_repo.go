package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"farmchat/internal/domain"
)

// DirectoryRepo reads the externally-owned parties and listings reference
// tables. Messaging never writes them.
type DirectoryRepo struct {
	db *sql.DB
}

func NewDirectoryRepo(db *sql.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

var _ domain.DirectoryRepository = (*DirectoryRepo)(nil)

func (r *DirectoryRepo) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	p := &domain.Party{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name FROM parties WHERE id = ?
	`, id).Scan(&p.ID, &p.DisplayName)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get party: %w", err)
	}
	return p, nil
}

func (r *DirectoryRepo) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l := &domain.Listing{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title FROM listings WHERE id = ?
	`, id).Scan(&l.ID, &l.Title)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}
