package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lumakey/lumakey/internal/store/core"
)

// accountTx implements core.AccountTx on one pgx transaction.
type accountTx struct {
	tx pgx.Tx
}

// RunInTx wraps fn in a transaction. Rollback on error, commit otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &accountTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListUserAccounts returns a user's links for one provider config.
func (s *Store) ListUserAccounts(ctx context.Context, tenancyID, userID, providerConfigID string) ([]core.OAuthAccount, error) {
	const q = `
		SELECT id, tenancy_id, provider_config_id, provider_account_id, user_id,
		       email, allow_sign_in, allow_connected_accounts, created_at
		FROM oauth_account
		WHERE tenancy_id = $1 AND user_id = $2 AND provider_config_id = $3`

	rows, err := s.pool.Query(ctx, q, tenancyID, userID, providerConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.OAuthAccount
	for rows.Next() {
		var a core.OAuthAccount
		if err := rows.Scan(
			&a.ID, &a.TenancyID, &a.ProviderConfigID, &a.ProviderAccountID, &a.UserID,
			&a.Email, &a.AllowSignIn, &a.AllowConnectedAccounts, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *accountTx) GetAccount(ctx context.Context, tenancyID, providerConfigID, providerAccountID string) (*core.OAuthAccount, error) {
	const q = `
		SELECT id, tenancy_id, provider_config_id, provider_account_id, user_id,
		       email, allow_sign_in, allow_connected_accounts, created_at
		FROM oauth_account
		WHERE tenancy_id = $1 AND provider_config_id = $2 AND provider_account_id = $3`

	var a core.OAuthAccount
	err := t.tx.QueryRow(ctx, q, tenancyID, providerConfigID, providerAccountID).Scan(
		&a.ID, &a.TenancyID, &a.ProviderConfigID, &a.ProviderAccountID, &a.UserID,
		&a.Email, &a.AllowSignIn, &a.AllowConnectedAccounts, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (t *accountTx) CreateAccount(ctx context.Context, a *core.OAuthAccount) error {
	const q = `
		INSERT INTO oauth_account (
			id, tenancy_id, provider_config_id, provider_account_id, user_id,
			email, allow_sign_in, allow_connected_accounts, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := t.tx.Exec(ctx, q,
		a.ID, a.TenancyID, a.ProviderConfigID, a.ProviderAccountID, a.UserID,
		a.Email, a.AllowSignIn, a.AllowConnectedAccounts, a.CreatedAt,
	)
	return mapErr(err)
}

func (t *accountTx) CreateAuthMethod(ctx context.Context, m *core.AuthMethod) error {
	const q = `
		INSERT INTO auth_method (id, tenancy_id, user_id, oauth_account_id, created_at)
		VALUES ($1,$2,$3,$4,$5)`

	_, err := t.tx.Exec(ctx, q, m.ID, m.TenancyID, m.UserID, m.OAuthAccountID, m.CreatedAt)
	return mapErr(err)
}

func (t *accountTx) GetContactChannelByValue(ctx context.Context, tenancyID, value string) (*core.ContactChannel, error) {
	// allow_duplicates lets several rows share a value; the auth-bearing
	// channel is the one merge decisions must see.
	const q = `
		SELECT id, tenancy_id, user_id, value, is_verified, used_for_auth, is_primary, created_at
		FROM contact_channel
		WHERE tenancy_id = $1 AND value = $2 AND type = 'EMAIL'
		ORDER BY used_for_auth DESC, created_at
		LIMIT 1`

	var c core.ContactChannel
	err := t.tx.QueryRow(ctx, q, tenancyID, value).Scan(
		&c.ID, &c.TenancyID, &c.UserID, &c.Value, &c.IsVerified, &c.UsedForAuth, &c.IsPrimary, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *accountTx) CreateUser(ctx context.Context, u *core.User) error {
	const q = `
		INSERT INTO project_user (id, tenancy_id, display_name, profile_image_url, created_at)
		VALUES ($1,$2,$3,$4,$5)`

	_, err := t.tx.Exec(ctx, q, u.ID, u.TenancyID, u.DisplayName, u.ProfileImageURL, u.CreatedAt)
	return mapErr(err)
}

func (t *accountTx) CreateContactChannel(ctx context.Context, c *core.ContactChannel) error {
	const q = `
		INSERT INTO contact_channel (id, tenancy_id, user_id, type, value, is_verified, used_for_auth, is_primary, created_at)
		VALUES ($1,$2,$3,'EMAIL',$4,$5,$6,$7,$8)`

	_, err := t.tx.Exec(ctx, q, c.ID, c.TenancyID, c.UserID, c.Value, c.IsVerified, c.UsedForAuth, c.IsPrimary, c.CreatedAt)
	return mapErr(err)
}
