package authserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs the access and ID tokens the embedded authorization server
// hands out when a code is redeemed. EdDSA keys only.
type Issuer struct {
	Iss        string
	KeyID      string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewIssuer builds an issuer from a base64 ed25519 seed. An empty seed
// generates an ephemeral key, which is only acceptable for dev: restarts
// invalidate outstanding tokens.
func NewIssuer(iss, seedB64 string, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	var priv ed25519.PrivateKey
	if strings.TrimSpace(seedB64) == "" {
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		priv = k
	} else {
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(seedB64))
		if err != nil {
			return nil, fmt.Errorf("issuer: decode seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("issuer: seed must be %d bytes", ed25519.SeedSize)
		}
		priv = ed25519.NewKeyFromSeed(seed)
	}

	return &Issuer{
		Iss:        iss,
		KeyID:      uuid.NewString()[:8],
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
	}, nil
}

// SignAccess mints the access token for a redeemed authorization code.
func (i *Issuer) SignAccess(tenancyID, userID, clientID, scope string) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss":   i.Iss,
		"sub":   userID,
		"aud":   clientID,
		"tid":   tenancyID,
		"scope": scope,
		"amr":   []string{"oauth"},
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(i.AccessTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	return i.sign(claims)
}

// SignID mints the ID token when the redeemed scope includes openid.
func (i *Issuer) SignID(tenancyID, userID, clientID string, newUser bool) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss":      i.Iss,
		"sub":      userID,
		"aud":      clientID,
		"tid":      tenancyID,
		"new_user": newUser,
		"iat":      now.Unix(),
		"exp":      now.Add(i.AccessTTL).Unix(),
	}
	return i.sign(claims)
}

func (i *Issuer) sign(claims jwtv5.MapClaims) (string, error) {
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tok.Header["kid"] = i.KeyID
	return tok.SignedString(i.priv)
}

// Keyfunc verifies tokens this issuer signed. Used by tests and introspection.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(*jwtv5.Token) (any, error) { return i.pub, nil }
}
