// Package config loads jwtbearer client configuration from the environment or
// from a YAML file, and can watch that file for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jwtbearer "github.com/ggoodman/jwt-bearer-go"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Env is the environment form of a client configuration.
type Env struct {
	// ENV: JWT_BEARER_CLIENT_ID
	ClientID string `env:"JWT_BEARER_CLIENT_ID,required"`
	// ENV: JWT_BEARER_AUTHORITY
	Authority string `env:"JWT_BEARER_AUTHORITY,required"`
	// Path to a PEM or JWK private key. ENV: JWT_BEARER_SIGNING_KEY_FILE
	SigningKeyFile string `env:"JWT_BEARER_SIGNING_KEY_FILE,required"`
	// Overrides the kid of a JWK key. ENV: JWT_BEARER_KEY_ID
	KeyID string `env:"JWT_BEARER_KEY_ID"`
}

// File is the YAML form of a client configuration.
//
//	client_id: billing-worker
//	authority: https://auth.example.com
//	signing_key_file: keys/billing.pem
//	key_id: billing-2024
//
// A relative signing_key_file is resolved against the directory holding the
// YAML file.
type File struct {
	ClientID       string `yaml:"client_id"`
	Authority      string `yaml:"authority"`
	SigningKeyFile string `yaml:"signing_key_file"`
	KeyID          string `yaml:"key_id,omitempty"`
}

// FromEnv builds a validated configuration from JWT_BEARER_* variables.
func FromEnv() (*jwtbearer.ClientConfig, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil {
		return nil, &jwtbearer.ConfigurationError{Problems: []string{"cannot read environment"}, Err: err}
	}
	return build(env.ClientID, env.Authority, env.SigningKeyFile, env.KeyID)
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*jwtbearer.ClientConfig, error) {
	cfg, _, err := load(path)
	return cfg, err
}

// load also returns the resolved signing key path so a Watcher can follow it.
func load(path string) (*jwtbearer.ClientConfig, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &jwtbearer.ConfigurationError{Problems: []string{"cannot read config file"}, Err: err}
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("file is empty")
		}
		return nil, "", &jwtbearer.ConfigurationError{Problems: []string{fmt.Sprintf("cannot parse %s", path)}, Err: err}
	}

	keyPath := f.SigningKeyFile
	if keyPath != "" {
		if !filepath.IsAbs(keyPath) {
			keyPath = filepath.Join(filepath.Dir(path), keyPath)
		}
		keyPath = filepath.Clean(keyPath)
	}
	cfg, err := build(f.ClientID, f.Authority, keyPath, f.KeyID)
	return cfg, keyPath, err
}

func build(clientID, authority, keyFile, keyID string) (*jwtbearer.ClientConfig, error) {
	cfg := &jwtbearer.ClientConfig{
		ClientID:  clientID,
		Authority: authority,
		KeyID:     keyID,
	}

	if keyFile == "" {
		return nil, &jwtbearer.ConfigurationError{Problems: []string{"signing key file is required"}}
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, &jwtbearer.ConfigurationError{Problems: []string{"cannot read signing key file"}, Err: err}
	}
	key, kid, err := jwtbearer.ParseSigningKey(raw)
	if err != nil {
		return nil, err
	}
	cfg.SigningKey = key
	if cfg.KeyID == "" {
		cfg.KeyID = kid
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
