package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lumakey/lumakey/internal/store/core"
)

// GetTenancy loads a tenancy with its callback-relevant settings.
func (s *Store) GetTenancy(ctx context.Context, id string) (*core.Tenancy, error) {
	const q = `
		SELECT id, branch_id, publishable_client_key, sign_up_enabled,
		       oauth_account_merge_strategy, trusted_domains, allow_localhost, created_at
		FROM tenancy
		WHERE id = $1`

	var t core.Tenancy
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.BranchID, &t.PublishableClientKey, &t.SignUpEnabled,
		&t.MergeStrategy, &t.TrustedDomains, &t.AllowLocalhost, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
