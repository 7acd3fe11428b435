package config

import (
	"fmt"
	"os"
	"time"

	"github.com/awsl-project/relay/internal/jsonutil"
)

// fileSnapshot mirrors Snapshot with human-friendly duration strings.
type fileSnapshot struct {
	AuthKey           string            `json:"authKey,omitempty"`
	ModelAliases      map[string]string `json:"modelAliases,omitempty"`
	DefaultCredential string            `json:"defaultCredential,omitempty"`
	Credentials       []CredentialSeed  `json:"credentials,omitempty"`
	Retry             struct {
		MaxAttempts    int    `json:"maxAttempts,omitempty"`
		InitialBackoff string `json:"initialBackoff,omitempty"`
		MaxBackoff     string `json:"maxBackoff,omitempty"`
	} `json:"retry"`
}

// LoadFile parses the config file into a snapshot. A missing path yields
// an empty snapshot so the gateway can start purely from the database.
func LoadFile(path string) (*Snapshot, error) {
	if path == "" {
		return normalize(&Snapshot{}), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return normalize(&Snapshot{}), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var f fileSnapshot
	if err := jsonutil.SafeUnmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	snap := &Snapshot{
		AuthKey:           f.AuthKey,
		ModelAliases:      f.ModelAliases,
		DefaultCredential: f.DefaultCredential,
		Credentials:       f.Credentials,
	}
	snap.Retry.MaxAttempts = f.Retry.MaxAttempts
	snap.Retry.InitialBackoff = parseDuration(f.Retry.InitialBackoff)
	snap.Retry.MaxBackoff = parseDuration(f.Retry.MaxBackoff)
	return normalize(snap), nil
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// normalize fills retry defaults and applies env overrides.
func normalize(s *Snapshot) *Snapshot {
	if key := os.Getenv("RELAY_AUTH_KEY"); key != "" {
		s.AuthKey = key
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 1
	}
	if s.Retry.InitialBackoff <= 0 {
		s.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if s.Retry.MaxBackoff <= 0 {
		s.Retry.MaxBackoff = 10 * time.Second
	}
	return s
}
