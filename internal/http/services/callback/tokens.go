package callback

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/security/secretbox"
	"github.com/lumakey/lumakey/internal/store/core"
)

// TokenPersister appends the freshly exchanged provider tokens. It runs after
// every successful resolution, including no-op link branches: the new pair is
// newer than anything stored and the log is append-only.
type TokenPersister interface {
	Store(ctx context.Context, tenancyID, providerConfigID, providerAccountID string, ts provider.TokenSet, scopes []string) error
}

type tokenPersister struct {
	repo core.ProviderTokenRepository
	box  *secretbox.Box
}

// NewTokenPersister creates a persister that seals token values before they
// hit the database. A nil box stores them unsealed (dev only).
func NewTokenPersister(repo core.ProviderTokenRepository, box *secretbox.Box) TokenPersister {
	return &tokenPersister{repo: repo, box: box}
}

func (p *tokenPersister) Store(ctx context.Context, tenancyID, providerConfigID, providerAccountID string, ts provider.TokenSet, scopes []string) error {
	access, err := p.seal(ts.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := p.seal(ts.RefreshToken)
	if err != nil {
		return err
	}

	return p.repo.Append(ctx, &core.ProviderToken{
		ID:                uuid.NewString(),
		TenancyID:         tenancyID,
		ProviderConfigID:  providerConfigID,
		ProviderAccountID: providerAccountID,
		AccessToken:       access,
		RefreshToken:      refresh,
		ExpiresAt:         ts.ExpiresAt,
		Scopes:            scopes,
		CreatedAt:         time.Now().UTC(),
	})
}

func (p *tokenPersister) seal(v string) (string, error) {
	if v == "" || p.box == nil {
		return v, nil
	}
	return p.box.Seal(v)
}
