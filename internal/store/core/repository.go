package core

import "context"

// TenancyRepository looks up tenancies.
type TenancyRepository interface {
	// GetTenancy returns ErrNotFound when the tenancy does not exist.
	GetTenancy(ctx context.Context, id string) (*Tenancy, error)
}

// OuterRequestRepository reads the persisted outer OAuth request records.
type OuterRequestRepository interface {
	// GetByInnerState returns ErrNotFound when no record matches. Expiry is
	// checked by the caller, not here: a found-but-stale row is a different
	// condition than a missing one.
	GetByInnerState(ctx context.Context, innerState string) (*OuterAuthRequest, error)

	// Create persists a new outer request. Used by the authorize leg and tests.
	Create(ctx context.Context, req *OuterAuthRequest) error
}

// AccountTx is the transactional view the account resolver mutates through.
// All methods run on one database transaction.
type AccountTx interface {
	// GetAccount looks up the link for an external account.
	// Returns ErrNotFound when absent.
	GetAccount(ctx context.Context, tenancyID, providerConfigID, providerAccountID string) (*OAuthAccount, error)

	// CreateAccount inserts a new link. Returns ErrConflict when the unique
	// key (tenancy, provider config, provider account) is already taken.
	CreateAccount(ctx context.Context, a *OAuthAccount) error

	// CreateAuthMethod marks an account link as usable for sign-in.
	CreateAuthMethod(ctx context.Context, m *AuthMethod) error

	// GetContactChannelByValue finds an email channel within a tenancy.
	// Returns ErrNotFound when absent.
	GetContactChannelByValue(ctx context.Context, tenancyID, value string) (*ContactChannel, error)

	// CreateUser inserts a new project user.
	CreateUser(ctx context.Context, u *User) error

	// CreateContactChannel inserts an email channel for a user.
	CreateContactChannel(ctx context.Context, c *ContactChannel) error
}

// AccountStore runs resolver work in one atomic transaction and serves the
// non-transactional reads the orchestrator needs before resolving.
type AccountStore interface {
	// RunInTx executes fn inside a transaction. Any error rolls back every
	// mutation fn performed.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx AccountTx) error) error

	// ListUserAccounts returns the user's links for one provider config.
	ListUserAccounts(ctx context.Context, tenancyID, userID, providerConfigID string) ([]OAuthAccount, error)
}

// ProviderTokenRepository appends provider token pairs. There is no upsert:
// each successful exchange adds a row.
type ProviderTokenRepository interface {
	Append(ctx context.Context, t *ProviderToken) error
}
