// Package auth resolves the signed-in client behind a bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "advisory-portal/internal/common/errors"
	apphttp "advisory-portal/internal/common/http"
)

const defaultCacheTTL = time.Minute

// IdentityResolver maps a bearer token to a stable identity. An empty token
// never reaches a resolver; callers treat it as anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// UserInfo is the subset of the OpenID Connect userinfo response we read.
type UserInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

type cachedIdentity struct {
	identity string
	expires  time.Time
}

// KeycloakClient resolves identities through the realm's userinfo endpoint.
type KeycloakClient struct {
	baseURL    string
	realm      string
	httpClient *apphttp.Client
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cachedIdentity
	now   func() time.Time
}

func NewKeycloakClient(baseURL, realm string, httpClient *apphttp.Client) *KeycloakClient {
	return &KeycloakClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		realm:      realm,
		httpClient: httpClient,
		cacheTTL:   defaultCacheTTL,
		cache:      make(map[string]cachedIdentity),
		now:        time.Now,
	}
}

func (k *KeycloakClient) userInfoURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/userinfo", k.baseURL, k.realm)
}

// UserInfo calls the userinfo endpoint with the client's token.
func (k *KeycloakClient) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	var info UserInfo
	err := k.httpClient.GetJSON(ctx, k.userInfoURL(), map[string]string{
		"Authorization": "Bearer " + token,
	}, &info)
	if err != nil {
		var statusErr *apphttp.StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			return nil, apperrors.NewInvalidTokenError(fmt.Sprintf("userinfo returned %d", statusErr.StatusCode))
		}
		return nil, apperrors.NewIdentityUnavailableError(err)
	}
	if info.Sub == "" {
		return nil, apperrors.NewInvalidTokenError("userinfo response has no subject")
	}
	return &info, nil
}

// Resolve returns the token's subject. Results are cached briefly so every
// autosave request does not hit Keycloak.
func (k *KeycloakClient) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.NewInvalidTokenError("token is empty")
	}

	k.mu.Lock()
	if c, ok := k.cache[token]; ok && k.now().Before(c.expires) {
		k.mu.Unlock()
		return c.identity, nil
	}
	k.mu.Unlock()

	info, err := k.UserInfo(ctx, token)
	if err != nil {
		return "", err
	}

	k.mu.Lock()
	k.evictExpiredLocked()
	k.cache[token] = cachedIdentity{identity: info.Sub, expires: k.now().Add(k.cacheTTL)}
	k.mu.Unlock()
	return info.Sub, nil
}

func (k *KeycloakClient) evictExpiredLocked() {
	now := k.now()
	for token, c := range k.cache {
		if !now.Before(c.expires) {
			delete(k.cache, token)
		}
	}
}
