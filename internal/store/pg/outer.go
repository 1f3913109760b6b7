package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lumakey/lumakey/internal/store/core"
)

// GetByInnerState reads an outer request row. The row is never deleted here:
// callback completion leaves it in place until natural TTL expiry.
func (s *Store) GetByInnerState(ctx context.Context, innerState string) (*core.OuterAuthRequest, error) {
	const q = `
		SELECT inner_state, tenancy_id, flow_type, linked_user_id, provider_config_id,
		       code_verifier, provider_scope,
		       publishable_client_key, redirect_uri, client_state, scope, grant_type,
		       code_challenge, code_challenge_method, response_type,
		       error_redirect_url, after_callback_redirect_url,
		       created_at, expires_at
		FROM oauth_outer_request
		WHERE inner_state = $1`

	var r core.OuterAuthRequest
	err := s.pool.QueryRow(ctx, q, innerState).Scan(
		&r.InnerState, &r.TenancyID, &r.FlowType, &r.LinkedUserID, &r.ProviderConfigID,
		&r.CodeVerifier, &r.ProviderScope,
		&r.ClientParams.PublishableClientKey, &r.ClientParams.RedirectURI,
		&r.ClientParams.State, &r.ClientParams.Scope, &r.ClientParams.GrantType,
		&r.ClientParams.CodeChallenge, &r.ClientParams.CodeChallengeMethod,
		&r.ClientParams.ResponseType,
		&r.ErrorRedirectURL, &r.AfterCallbackRedirectURL,
		&r.CreatedAt, &r.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Create persists a new outer request at the start of the authorize leg.
func (s *Store) Create(ctx context.Context, r *core.OuterAuthRequest) error {
	const q = `
		INSERT INTO oauth_outer_request (
			inner_state, tenancy_id, flow_type, linked_user_id, provider_config_id,
			code_verifier, provider_scope,
			publishable_client_key, redirect_uri, client_state, scope, grant_type,
			code_challenge, code_challenge_method, response_type,
			error_redirect_url, after_callback_redirect_url,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	_, err := s.pool.Exec(ctx, q,
		r.InnerState, r.TenancyID, r.FlowType, r.LinkedUserID, r.ProviderConfigID,
		r.CodeVerifier, r.ProviderScope,
		r.ClientParams.PublishableClientKey, r.ClientParams.RedirectURI,
		r.ClientParams.State, r.ClientParams.Scope, r.ClientParams.GrantType,
		r.ClientParams.CodeChallenge, r.ClientParams.CodeChallengeMethod,
		r.ClientParams.ResponseType,
		r.ErrorRedirectURL, r.AfterCallbackRedirectURL,
		r.CreatedAt, r.ExpiresAt,
	)
	return mapErr(err)
}
