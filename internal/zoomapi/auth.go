// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package zoomapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// tokenTTL is the lifetime of each self-signed API token. Tokens are
// reused until shortly before expiry via oauth2.ReuseTokenSource.
const (
	tokenTTL    = 90 * time.Second
	tokenLeeway = 10 * time.Second
)

// jwtTokenSource implements oauth2.TokenSource by minting short-lived
// JWTs signed with the provider API secret, the signature scheme the
// conferencing provider expects for server-to-server calls.
type jwtTokenSource struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// Token returns a freshly signed bearer token.
func (s *jwtTokenSource) Token() (*oauth2.Token, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.apiKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.apiSecret))
	if err != nil {
		return nil, fmt.Errorf("signing API token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      now.Add(tokenTTL - tokenLeeway),
	}, nil
}
