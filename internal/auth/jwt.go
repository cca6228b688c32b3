// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth issues and checks the service tokens exchanged between the
// jobs and runner services.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service names used as token subjects and audiences.
const (
	ServiceJobs   = "jobs"
	ServiceRunner = "runner"
)

// Config contains service token configuration.
type Config struct {
	// Secret is the HS256 signing key. Empty disables authentication.
	Secret []byte

	// Issuer is the expected issuer claim.
	Issuer string

	// ClockSkew allows for clock skew when validating exp/nbf claims.
	ClockSkew time.Duration

	// TTL is the lifetime of generated tokens. Default: 5m.
	TTL time.Duration
}

// Enabled reports whether a signing secret is configured.
func (c Config) Enabled() bool {
	return len(c.Secret) > 0
}

// Claims represents service token claims.
type Claims struct {
	jwt.RegisteredClaims
	// RunnerID identifies the runner instance when the caller is a runner.
	RunnerID string `json:"runner_id,omitempty"`
}

// Validate checks a token and returns its claims. When audience is non-empty
// the token must be addressed to it.
func Validate(tokenString string, audience string, cfg Config) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		return cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer: expected %s, got %s", cfg.Issuer, claims.Issuer)
	}

	if audience != "" && !slices.Contains(claims.Audience, audience) {
		return nil, fmt.Errorf("invalid audience: expected %s", audience)
	}

	return claims, nil
}

// Generate signs a token for subject addressed to audience.
func Generate(subject, audience string, cfg Config) (string, error) {
	if !cfg.Enabled() {
		return "", fmt.Errorf("no signing key configured")
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
