package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	dir := dataHome()
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "bugbuster", "secrets.json")
}

// secretGet reads {service: {account: value}} from the secrets file.
func secretGet(service, account string) ([]byte, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return nil, fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return nil, fmt.Errorf("account %q not found in service %q", account, service)
	}
	return []byte(val), nil
}

// SetSecret stores a secret value in the secrets file with 0600 permissions.
func SetSecret(key, value string) error {
	found := false
	for _, s := range specs {
		if s.key == key && s.secret {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown secret key: %q", key)
	}

	p := secretsFilePath()
	var secrets map[string]map[string]string
	if data, err := os.ReadFile(p); err == nil {
		_ = json.Unmarshal(data, &secrets)
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets["bugbuster"] == nil {
		secrets["bugbuster"] = make(map[string]string)
	}
	secrets["bugbuster"][key] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
