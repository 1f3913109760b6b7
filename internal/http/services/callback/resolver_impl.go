package callback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumakey/lumakey/internal/observability/logger"
	"github.com/lumakey/lumakey/internal/store/core"
)

// accountResolver implements Resolver on an AccountStore. Every invocation
// runs its mutations inside one transaction; the unique key on
// (tenancy, provider config, provider account) backstops concurrent creates.
type accountResolver struct {
	store core.AccountStore
}

// NewResolver creates the account resolver.
func NewResolver(store core.AccountStore) Resolver {
	return &accountResolver{store: store}
}

func (r *accountResolver) Resolve(ctx context.Context, in ResolveInput) (*Resolution, error) {
	if in.Tenancy == nil {
		return nil, fatal("tenancy missing in resolve input", nil)
	}
	if in.Profile.AccountID == "" {
		return nil, fatal("provider profile has no account id", nil)
	}

	var res *Resolution
	err := r.store.RunInTx(ctx, func(ctx context.Context, tx core.AccountTx) error {
		var err error
		switch in.FlowType {
		case core.FlowLink:
			res, err = r.resolveLink(ctx, tx, in)
		case core.FlowSignIn:
			res, err = r.resolveSignIn(ctx, tx, in)
		default:
			err = fatal("unknown flow type", nil)
		}
		return err
	})
	if err != nil {
		// A lost create-create race surfaces as a conflict, never a silent
		// double-create.
		if errors.Is(err, core.ErrConflict) {
			return nil, ErrConnectionAlreadyConnectedToAnotherUser.WithCause(err)
		}
		return nil, err
	}

	logger.From(ctx).Info("account resolved",
		logger.Layer("service"), logger.Component("callback.resolver"),
		logger.TenancyID(in.Tenancy.ID),
		logger.UserID(res.UserID),
		logger.String("branch", res.Branch),
		logger.Bool("new_user", res.NewUser),
	)
	return res, nil
}

// resolveLink attaches a provider account to an already-authenticated user.
// Linking never creates an AuthMethod: connecting is not enabling sign-in.
func (r *accountResolver) resolveLink(ctx context.Context, tx core.AccountTx, in ResolveInput) (*Resolution, error) {
	if in.LinkedUserID == nil || *in.LinkedUserID == "" {
		// Upstream guarantees the link flow carries the authenticated user.
		return nil, fatal("link flow without linked user id", nil)
	}
	linkedUserID := *in.LinkedUserID

	existing, err := tx.GetAccount(ctx, in.Tenancy.ID, in.ProviderConfigID, in.Profile.AccountID)
	switch {
	case err == nil:
		if existing.UserID != linkedUserID {
			return nil, ErrConnectionAlreadyConnectedToAnotherUser
		}
		// Idempotent: same account, same user, nothing to write.
		return &Resolution{UserID: linkedUserID, Branch: "link_existing"}, nil
	case errors.Is(err, core.ErrNotFound):
		// fall through to create
	default:
		return nil, fatal("account lookup failed", err)
	}

	acc := &core.OAuthAccount{
		ID:                     uuid.NewString(),
		TenancyID:              in.Tenancy.ID,
		ProviderConfigID:       in.ProviderConfigID,
		ProviderAccountID:      in.Profile.AccountID,
		UserID:                 linkedUserID,
		Email:                  emailOrEmpty(in.Profile.Email),
		AllowSignIn:            false,
		AllowConnectedAccounts: true,
		CreatedAt:              time.Now().UTC(),
	}
	if err := tx.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	return &Resolution{UserID: linkedUserID, Branch: "link_new"}, nil
}

func (r *accountResolver) resolveSignIn(ctx context.Context, tx core.AccountTx, in ResolveInput) (*Resolution, error) {
	existing, err := tx.GetAccount(ctx, in.Tenancy.ID, in.ProviderConfigID, in.Profile.AccountID)
	switch {
	case err == nil:
		// An existing link is always trusted for sign-in.
		return &Resolution{UserID: existing.UserID, Branch: "sign_in"}, nil
	case errors.Is(err, core.ErrNotFound):
		// fall through
	default:
		return nil, fatal("account lookup failed", err)
	}

	if !in.Tenancy.SignUpEnabled {
		return nil, ErrSignUpNotEnabled
	}

	// Under allow_duplicates an email value is never exclusive within the
	// tenancy, so an OAuth-provisioned email can never become a sign-in
	// channel, whether or not another copy already exists.
	suppressEmailAuth := in.Tenancy.MergeStrategy == core.MergeAllowDuplicates
	if in.Profile.Email != nil {
		email := normalizeEmail(*in.Profile.Email)
		channel, err := tx.GetContactChannelByValue(ctx, in.Tenancy.ID, email)
		switch {
		case err == nil && channel.UsedForAuth:
			switch in.Tenancy.MergeStrategy {
			case core.MergeLinkMethod:
				// The only branch that silently attaches a new external
				// identity to a pre-existing account. Any ambiguity about
				// email ownership fails closed.
				if !channel.IsVerified || !in.Profile.EmailVerified {
					return nil, ErrContactChannelAlreadyUsedForAuth
				}
				return r.mergeIntoExisting(ctx, tx, in, channel.UserID)
			case core.MergeRaiseError:
				return nil, ErrContactChannelAlreadyUsedForAuth
			case core.MergeAllowDuplicates:
				// Sign up as usual; suppression is already in effect.
			default:
				return nil, fatal("unknown oauth account merge strategy", nil)
			}
		case err == nil:
			// Channel exists but is not used for auth: no merge question to
			// answer, a fresh user may own a copy of the email.
		case errors.Is(err, core.ErrNotFound):
			// fall through
		default:
			return nil, fatal("contact channel lookup failed", err)
		}
	}

	return r.createUser(ctx, tx, in, suppressEmailAuth)
}

// mergeIntoExisting attaches the new provider account, with sign-in enabled,
// to the user owning the verified contact channel.
func (r *accountResolver) mergeIntoExisting(ctx context.Context, tx core.AccountTx, in ResolveInput, userID string) (*Resolution, error) {
	now := time.Now().UTC()
	acc := &core.OAuthAccount{
		ID:                     uuid.NewString(),
		TenancyID:              in.Tenancy.ID,
		ProviderConfigID:       in.ProviderConfigID,
		ProviderAccountID:      in.Profile.AccountID,
		UserID:                 userID,
		Email:                  emailOrEmpty(in.Profile.Email),
		AllowSignIn:            true,
		AllowConnectedAccounts: true,
		CreatedAt:              now,
	}
	if err := tx.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	if err := tx.CreateAuthMethod(ctx, &core.AuthMethod{
		ID:             uuid.NewString(),
		TenancyID:      in.Tenancy.ID,
		UserID:         userID,
		OAuthAccountID: acc.ID,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}
	return &Resolution{UserID: userID, Branch: "email_merge"}, nil
}

// createUser provisions a brand-new user with the provider account as its
// first auth method.
func (r *accountResolver) createUser(ctx context.Context, tx core.AccountTx, in ResolveInput, suppressEmailAuth bool) (*Resolution, error) {
	now := time.Now().UTC()
	user := &core.User{
		ID:              uuid.NewString(),
		TenancyID:       in.Tenancy.ID,
		DisplayName:     in.Profile.DisplayName,
		ProfileImageURL: in.Profile.ProfileImageURL,
		CreatedAt:       now,
	}
	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if in.Profile.Email != nil {
		if err := tx.CreateContactChannel(ctx, &core.ContactChannel{
			ID:          uuid.NewString(),
			TenancyID:   in.Tenancy.ID,
			UserID:      user.ID,
			Value:       normalizeEmail(*in.Profile.Email),
			IsVerified:  in.Profile.EmailVerified,
			UsedForAuth: !suppressEmailAuth,
			IsPrimary:   true,
			CreatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}

	acc := &core.OAuthAccount{
		ID:                     uuid.NewString(),
		TenancyID:              in.Tenancy.ID,
		ProviderConfigID:       in.ProviderConfigID,
		ProviderAccountID:      in.Profile.AccountID,
		UserID:                 user.ID,
		Email:                  emailOrEmpty(in.Profile.Email),
		AllowSignIn:            true,
		AllowConnectedAccounts: true,
		CreatedAt:              now,
	}
	if err := tx.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	if err := tx.CreateAuthMethod(ctx, &core.AuthMethod{
		ID:             uuid.NewString(),
		TenancyID:      in.Tenancy.ID,
		UserID:         user.ID,
		OAuthAccountID: acc.ID,
		CreatedAt:      now,
	}); err != nil {
		return nil, err
	}

	return &Resolution{UserID: user.ID, NewUser: true, Branch: "sign_up"}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailOrEmpty(email *string) string {
	if email == nil {
		return ""
	}
	return normalizeEmail(*email)
}
