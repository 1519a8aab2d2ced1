package website

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClaims(t *testing.T) {
	token := signTestToken(t, "https://api.auth-agent.com", time.Hour)

	claims, err := DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, testAgentID, claims.AgentID())
	assert.Equal(t, testClientID, claims.ClientID)
	assert.Equal(t, "openid profile", claims.Scope)
	assert.Equal(t, "https://api.auth-agent.com", claims.Issuer)

	_, err = DecodeClaims("opaque-token")
	assert.Error(t, err)
}

func TestDecodeClaimsIgnoresExpiry(t *testing.T) {
	token := signTestToken(t, "https://api.auth-agent.com", -time.Hour)

	claims, err := DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, testAgentID, claims.Subject)
}

func TestVerifyClaims(t *testing.T) {
	issuer := "https://api.auth-agent.com"
	valid := signTestToken(t, issuer, time.Hour)
	expired := signTestToken(t, issuer, -time.Hour)

	tests := []struct {
		name    string
		token   string
		secret  string
		issuer  string
		wantErr bool
	}{
		{name: "valid", token: valid, secret: testJWTSecret, issuer: issuer},
		{name: "issuer not checked", token: valid, secret: testJWTSecret},
		{name: "wrong secret", token: valid, secret: "other", issuer: issuer, wantErr: true},
		{name: "wrong issuer", token: valid, secret: testJWTSecret, issuer: "https://evil.example.com", wantErr: true},
		{name: "expired", token: expired, secret: testJWTSecret, issuer: issuer, wantErr: true},
		{name: "garbage", token: "a.b.c", secret: testJWTSecret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := VerifyClaims(tt.token, []byte(tt.secret), tt.issuer)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testAgentID, claims.AgentID())
		})
	}
}
