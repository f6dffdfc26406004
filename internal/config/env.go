package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultKeyEnv names the variable holding the bridge credential.
const DefaultKeyEnv = "TUISPEAK_BRIDGE_KEY"

// LoadEnv loads the given .env files that exist. Variables already set in the
// environment win.
func LoadEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to stat env file: %w", err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// EngineKey returns the credential stored in keyEnv, or in DefaultKeyEnv.
func EngineKey(keyEnv string) string {
	if keyEnv == "" {
		keyEnv = DefaultKeyEnv
	}
	return os.Getenv(keyEnv)
}
