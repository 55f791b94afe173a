// File: internal/config/config.go
// Package config
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Environment-driven configuration loading. Values come from the process
// environment, optionally seeded from .env files; variables already set in
// the environment win over file contents.

package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer is returned when a nil pointer is provided to Load.
	ErrNilPointer = errors.New("nil pointer provided to config loader")
	// ErrParsingConfig wraps env parse failures.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
)

// LoadEnv reads the given .env files into the process environment. With no
// arguments it reads ./.env. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load seeds the environment from files (see LoadEnv) and parses it into v
// according to its `env` and `envDefault` struct tags. Fields already set
// in v are overwritten only when the variable or a default exists.
func Load[T any](v *T, files ...string) error {
	if v == nil {
		return ErrNilPointer
	}
	if err := LoadEnv(files...); err != nil {
		return err
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}
