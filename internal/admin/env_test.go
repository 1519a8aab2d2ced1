package admin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentEnv(t *testing.T) {
	env := AgentEnv(&Agent{AgentID: "agent_1", AgentSecret: "ags_1"}, "")
	assert.Equal(t, map[string]string{
		EnvAgentID:     "agent_1",
		EnvAgentSecret: "ags_1",
		EnvAgentModel:  "browser-use",
	}, env)

	env = AgentEnv(&Agent{AgentID: "agent_1"}, "gpt-4")
	assert.Equal(t, "gpt-4", env[EnvAgentModel])
}

func TestClientEnv(t *testing.T) {
	env := ClientEnv(&OAuthClient{ClientID: "client_1", ClientSecret: "cs_1"}, "https://api.auth-agent.com")
	assert.Equal(t, "https://api.auth-agent.com", env[EnvServerURL])
	assert.Equal(t, "https://api.auth-agent.com", env[EnvPublicServerURL])
	assert.Equal(t, "client_1", env[EnvClientID])
	assert.Equal(t, "client_1", env[EnvPublicClientID])
	assert.Equal(t, "cs_1", env[EnvClientSecret])
}

func TestFormatEnv(t *testing.T) {
	out, err := FormatEnv(map[string]string{"B": "two words", "A": "1x"})
	require.NoError(t, err)
	assert.Equal(t, "A=\"1x\"\nB=\"two words\"", out)
}

func TestWriteEnvFileCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	require.NoError(t, WriteEnvFile(path, map[string]string{EnvAgentID: "agent_1", EnvAgentSecret: "ags_1"}))

	got, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "agent_1", got[EnvAgentID])
	assert.Equal(t, "ags_1", got[EnvAgentSecret])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteEnvFileMergesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROWSER_USE_API_KEY=keep-me\nAGENT_ID=old\n"), 0o644))

	require.NoError(t, WriteEnvFile(path, map[string]string{EnvAgentID: "agent_new"}))

	got, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", got["BROWSER_USE_API_KEY"])
	assert.Equal(t, "agent_new", got[EnvAgentID])
}

func TestWriteEnvFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	err := WriteEnvFile(dir, map[string]string{"A": "b"})
	assert.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	merged := MergeEnv(map[string]string{"A": "1", "B": "1"}, map[string]string{"B": "2"}, nil)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, merged)
}
