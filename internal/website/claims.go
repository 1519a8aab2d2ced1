package website

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by an Auth Agent access token. The subject
// is the agent id.
type Claims struct {
	ClientID string `json:"client_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// AgentID returns the authenticated agent.
func (c *Claims) AgentID() string {
	return c.Subject
}

// DecodeClaims reads the claims of a token without checking its signature.
// Use it for display only; Introspect or VerifyClaims decide validity.
func DecodeClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// VerifyClaims checks an HS256 signature with the server's shared secret and
// validates expiry and, when non-empty, the issuer.
func VerifyClaims(token string, secret []byte, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
