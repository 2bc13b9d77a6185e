package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets holds sensitive configuration loaded from environment variables.
// SECURITY: secrets never come from CLI flags (visible in process listings)
// or the config file (workspace-adjacent, readable by tools).
type Secrets struct {
	// DBKey is the SQLCipher encryption key for the telemetry database.
	// Env: LOCALGPT_DB_KEY
	DBKey string `envconfig:"LOCALGPT_DB_KEY"`
}

// LoadSecrets loads secrets from environment variables.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("load secrets from environment: %w", err)
	}
	return &s, nil
}
