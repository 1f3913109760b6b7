package callback

import (
	"context"

	"github.com/lumakey/lumakey/internal/oauth/provider"
	"github.com/lumakey/lumakey/internal/store/core"
)

// Resolver is the decision engine: given the flow type, the provider profile
// and the tenancy's merge strategy, it decides the outcome branch and performs
// the corresponding mutations in one transaction.
type Resolver interface {
	Resolve(ctx context.Context, in ResolveInput) (*Resolution, error)
}

// ResolveInput carries everything the decision tree inspects.
type ResolveInput struct {
	Tenancy          *core.Tenancy
	FlowType         core.FlowType
	LinkedUserID     *string // required iff FlowType == FlowLink
	ProviderConfigID string
	Profile          provider.UserInfo
}

// Resolution names the chosen branch and the resolved user.
type Resolution struct {
	UserID  string
	NewUser bool

	// Branch is the decision outcome, for logs and metrics:
	// "sign_in", "sign_up", "link_existing", "link_new", "email_merge".
	Branch string
}
