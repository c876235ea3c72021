package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/log"
	"github.com/stormstack/lightning/pkg/types"
)

// Token lifetime bounds.
const (
	DefaultValidFor = time.Hour
	MaxValidFor     = 24 * time.Hour

	// cacheTTL bounds how long a validated token is served from cache.
	// Kept short so revocation propagates quickly.
	cacheTTL  = 30 * time.Second
	cacheSize = 4096
)

// TokenStore is the durable backing for issued tokens. Implemented by
// storage.BoltStore; nil keeps the gate memory-only.
type TokenStore interface {
	SaveToken(t types.MatchToken) error
	DeleteToken(id string) error
	LoadTokens() ([]types.MatchToken, error)
}

// Introspector resolves tokens this gate did not issue. Engine nodes use
// the control plane client here, since tokens are minted at admission on
// the control plane.
type Introspector interface {
	IntrospectToken(ctx context.Context, bearer string) (*types.MatchToken, error)
}

// Gate mints and validates match-scoped bearer tokens. Tokens are opaque:
// a random id plus an HMAC-SHA256 signature, with the authoritative record
// held server-side so revocation is immediate.
type Gate struct {
	logger     zerolog.Logger
	secret     []byte
	store      TokenStore
	introspect Introspector

	mu     sync.RWMutex
	tokens map[string]*types.MatchToken

	cache *expirable.LRU[string, types.MatchToken]

	// inflight collapses concurrent introspections of the same bearer
	// into one control plane round trip.
	inflight singleflight.Group
}

// NewGate creates a token gate. The secret signs every issued token; an
// empty secret is replaced with a random per-process one, which invalidates
// outstanding tokens on restart.
func NewGate(secret []byte, store TokenStore) (*Gate, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, errdefs.Internal(err)
		}
	}
	g := &Gate{
		logger: log.WithComponent("auth"),
		secret: secret,
		store:  store,
		tokens: make(map[string]*types.MatchToken),
		cache:  expirable.NewLRU[string, types.MatchToken](cacheSize, nil, cacheTTL),
	}
	if store != nil {
		restored, err := store.LoadTokens()
		if err != nil {
			return nil, err
		}
		now := time.Now()
		for i := range restored {
			t := restored[i]
			if now.After(t.ExpiresAt) {
				continue
			}
			g.tokens[t.ID] = &t
		}
	}
	return g, nil
}

// ClampValidFor normalizes a requested token lifetime to the allowed range.
func ClampValidFor(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultValidFor
	}
	if d > MaxValidFor {
		return MaxValidFor
	}
	return d
}

// Issue mints a match token. The returned bearer string is what the client
// presents; the MatchToken is the server-side record.
func (g *Gate) Issue(matchID types.MatchID, containerID types.ContainerID, playerID types.PlayerID, playerName string, scopes []types.Scope, validFor time.Duration) (*types.MatchToken, string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", errdefs.Internal(err)
	}
	id := hex.EncodeToString(raw)

	if len(scopes) == 0 {
		scopes = types.DefaultScopes()
	}
	now := time.Now()
	t := &types.MatchToken{
		ID:          id,
		MatchID:     matchID,
		ContainerID: containerID,
		PlayerID:    playerID,
		PlayerName:  playerName,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ClampValidFor(validFor)),
	}

	g.mu.Lock()
	g.tokens[id] = t
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveToken(*t); err != nil {
			g.logger.Warn().Err(err).Str("token_id", id).Msg("failed to persist token")
		}
	}

	g.logger.Debug().
		Str("token_id", id).
		Uint64("match_id", uint64(matchID)).
		Uint64("player_id", uint64(playerID)).
		Time("expires_at", t.ExpiresAt).
		Msg("token issued")
	return t, g.bearer(id), nil
}

// bearer encodes a token id with its signature: "<id>.<hmac>".
func (g *Gate) bearer(id string) string {
	return id + "." + g.sign(id)
}

func (g *Gate) sign(id string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// SetIntrospector wires remote token resolution for bearers this gate
// did not issue.
func (g *Gate) SetIntrospector(in Introspector) { g.introspect = in }

// Validate checks a bearer token's signature, existence, expiry, and
// revocation, returning the server-side record on success. Bearers this
// gate has no record of are resolved through the introspector when one is
// wired: tokens minted elsewhere carry the issuer's signature, which only
// the issuer can verify.
func (g *Gate) Validate(ctx context.Context, bearer string) (*types.MatchToken, error) {
	id, sig, ok := strings.Cut(bearer, ".")
	if !ok || id == "" || sig == "" {
		return nil, errdefs.New(errdefs.KindInvalidToken, "malformed token")
	}

	if cached, ok := g.cache.Get(bearer); ok {
		if time.Now().After(cached.ExpiresAt) {
			g.cache.Remove(bearer)
			return nil, errdefs.New(errdefs.KindExpiredToken, "token expired")
		}
		return &cached, nil
	}

	localSig := hmac.Equal([]byte(sig), []byte(g.sign(id)))

	g.mu.RLock()
	t, exists := g.tokens[id]
	g.mu.RUnlock()
	if !exists {
		if g.introspect != nil {
			return g.introspectBearer(ctx, bearer)
		}
		if !localSig {
			return nil, errdefs.New(errdefs.KindInvalidToken, "bad token signature")
		}
		return nil, errdefs.New(errdefs.KindInvalidToken, "unknown token")
	}
	if !localSig {
		return nil, errdefs.New(errdefs.KindInvalidToken, "bad token signature")
	}
	if t.RevokedAt != nil {
		return nil, errdefs.New(errdefs.KindInvalidToken, "token revoked")
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, errdefs.New(errdefs.KindExpiredToken, "token expired")
	}

	g.cache.Add(bearer, *t)
	return t, nil
}

// introspectBearer resolves a foreign bearer at its issuer. The issuer
// re-verifies the signature, so no local check applies here.
func (g *Gate) introspectBearer(ctx context.Context, bearer string) (*types.MatchToken, error) {
	v, err, _ := g.inflight.Do(bearer, func() (any, error) {
		remote, err := g.introspect.IntrospectToken(ctx, bearer)
		if err != nil {
			return nil, err
		}
		g.cache.Add(bearer, *remote)
		return remote, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.MatchToken), nil
}

// Revoke marks one token revoked. Every later validation fails.
func (g *Gate) Revoke(id string) error {
	g.mu.Lock()
	t, exists := g.tokens[id]
	if !exists {
		g.mu.Unlock()
		return errdefs.NotFound("token", id)
	}
	if t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	g.mu.Unlock()

	g.cache.Remove(g.bearer(id))
	if g.store != nil {
		if err := g.store.SaveToken(*t); err != nil {
			g.logger.Warn().Err(err).Str("token_id", id).Msg("failed to persist revocation")
		}
	}
	g.logger.Info().Str("token_id", id).Msg("token revoked")
	return nil
}

// RevokeMatch revokes every live token scoped to a match. Operators may
// call this when a match finishes; by default tokens expire naturally.
func (g *Gate) RevokeMatch(matchID types.MatchID) int {
	g.mu.Lock()
	var ids []string
	now := time.Now()
	for id, t := range g.tokens {
		if t.MatchID == matchID && t.RevokedAt == nil {
			t.RevokedAt = &now
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.cache.Remove(g.bearer(id))
	}
	if len(ids) > 0 {
		g.logger.Info().Uint64("match_id", uint64(matchID)).Int("tokens", len(ids)).Msg("match tokens revoked")
	}
	return len(ids)
}

// Sweep drops expired tokens from memory and the persistent store.
func (g *Gate) Sweep() int {
	now := time.Now()
	g.mu.Lock()
	var expired []string
	for id, t := range g.tokens {
		if now.After(t.ExpiresAt) {
			delete(g.tokens, id)
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		g.cache.Remove(g.bearer(id))
		if g.store != nil {
			if err := g.store.DeleteToken(id); err != nil {
				g.logger.Warn().Err(err).Str("token_id", id).Msg("failed to delete expired token")
			}
		}
	}
	return len(expired)
}

// Principal builds the identity carried by a validated token.
func Principal(t *types.MatchToken) types.Principal {
	return types.Principal{
		PlayerID: t.PlayerID,
		Name:     t.PlayerName,
		Token:    t,
	}
}

// RequireScope fails with ScopeDenied when the token lacks the scope.
func RequireScope(t *types.MatchToken, s types.Scope) error {
	if !t.HasScope(s) {
		return errdefs.ScopeDenied(string(s))
	}
	return nil
}

// RequireMatch fails when the token is scoped to a different match.
func RequireMatch(t *types.MatchToken, matchID types.MatchID) error {
	if t.MatchID != matchID {
		return errdefs.PermissionDenied("token is not scoped to match %d", matchID)
	}
	return nil
}
