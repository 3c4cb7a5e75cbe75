package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"paybot/internal/domain"
	logx "paybot/pkg/logx"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshToken returns a usable access token for u, refreshing it through the
// provider when it is missing or about to expire. The refreshed credential is
// written back into u.Credential; callers persist it.
//
// A user without any stored credential gets "", nil.
func (c *Client) RefreshToken(ctx context.Context, u *domain.User) (string, error) {
	cred := u.Credential
	if cred.Empty() {
		return "", nil
	}
	now := c.now()
	if cred.AccessToken != "" && c.fresh(cred, now) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", fmt.Errorf("%w: access token expired and no refresh token stored", domain.ErrToken)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "oauth/token", "", form, &out); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrToken, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: provider returned an empty access token", domain.ErrToken)
	}

	next := domain.Credential{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if out.ExpiresIn > 0 {
		next.ExpiresAt = now.Add(time.Duration(out.ExpiresIn) * time.Second).UTC()
	} else if exp, ok := jwtExpiry(out.AccessToken); ok {
		next.ExpiresAt = exp.UTC()
	}
	u.Credential = next
	c.log.Debug("token refreshed", logx.String("tenant", u.TenantID), logx.String("user", u.ID), logx.Time("expires", next.ExpiresAt))
	return next.AccessToken, nil
}

// fresh reports whether the access token stays valid past now+skew. Without
// a stored expiry the JWT exp claim is used; opaque tokens without expiry
// are trusted.
func (c *Client) fresh(cred domain.Credential, now time.Time) bool {
	exp := cred.ExpiresAt
	if exp.IsZero() {
		var ok bool
		if exp, ok = jwtExpiry(cred.AccessToken); !ok {
			return true
		}
	}
	return exp.After(now.Add(c.cfg.RefreshSkew))
}

// jwtExpiry reads the exp claim without verifying the signature; the
// provider is the only party that validates it.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
