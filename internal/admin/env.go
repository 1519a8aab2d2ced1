package admin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names read by agents and websites.
const (
	EnvAgentID         = "AGENT_ID"
	EnvAgentSecret     = "AGENT_SECRET"
	EnvAgentModel      = "AGENT_MODEL"
	EnvServerURL       = "AUTH_AGENT_SERVER_URL"
	EnvClientID        = "AUTH_AGENT_CLIENT_ID"
	EnvClientSecret    = "AUTH_AGENT_CLIENT_SECRET"
	EnvPublicServerURL = "NEXT_PUBLIC_AUTH_AGENT_SERVER_URL"
	EnvPublicClientID  = "NEXT_PUBLIC_AUTH_AGENT_CLIENT_ID"
)

const (
	defaultEnvAgentModel = "browser-use"
	envFilePermissions   = 0o600
)

// AgentEnv returns the variables an agent needs to authenticate.
func AgentEnv(a *Agent, model string) map[string]string {
	if model == "" {
		model = defaultEnvAgentModel
	}
	return map[string]string{
		EnvAgentID:     a.AgentID,
		EnvAgentSecret: a.AgentSecret,
		EnvAgentModel:  model,
	}
}

// ClientEnv returns the variables a website needs to run the sign-in flow.
func ClientEnv(c *OAuthClient, serverURL string) map[string]string {
	return map[string]string{
		EnvServerURL:       serverURL,
		EnvClientID:        c.ClientID,
		EnvClientSecret:    c.ClientSecret,
		EnvPublicServerURL: serverURL,
		EnvPublicClientID:  c.ClientID,
	}
}

// MergeEnv returns a new map with the entries of every map, later ones winning.
func MergeEnv(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// FormatEnv renders vars in .env syntax, sorted by key.
func FormatEnv(vars map[string]string) (string, error) {
	return godotenv.Marshal(vars)
}

// WriteEnvFile merges vars into the .env file at path, creating it when
// missing. Existing keys not in vars are kept. The file is private to the user.
func WriteEnvFile(path string, vars map[string]string) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		existing = map[string]string{}
	}

	if err := godotenv.Write(MergeEnv(existing, vars), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(path, envFilePermissions); err != nil {
		return fmt.Errorf("failed to restrict permissions on %s: %w", path, err)
	}
	return nil
}
