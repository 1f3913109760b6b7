package pg

import (
	"context"

	"github.com/lumakey/lumakey/internal/store/core"
)

// Append inserts one provider token row. Append-only on purpose: older pairs
// stay around as a refresh/audit log.
func (s *Store) Append(ctx context.Context, t *core.ProviderToken) error {
	const q = `
		INSERT INTO provider_token (
			id, tenancy_id, provider_config_id, provider_account_id,
			access_token, refresh_token, expires_at, scopes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.pool.Exec(ctx, q,
		t.ID, t.TenancyID, t.ProviderConfigID, t.ProviderAccountID,
		t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Scopes, t.CreatedAt,
	)
	return mapErr(err)
}
