// File: cmd/stomp-server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/momentics/hioload-stomp/internal/config"
	"github.com/momentics/hioload-stomp/internal/logger"
	"github.com/momentics/hioload-stomp/server"
)

const usage = "usage: stomp-server <port> <tpc|reactor>"

var errUsage = errors.New("too many arguments")

func loadEnv(cfg *server.Config) error {
	return config.Load(cfg)
}

// loadConfig reads the environment, applies positional overrides and
// validates the result.
func loadConfig(args []string) (*server.Config, error) {
	cfg := &server.Config{}
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	if err := applyArgs(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := server.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	cfg.Mode = string(mode)
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if _, err := logger.ParseFormat(cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyArgs(cfg *server.Config, args []string) error {
	if len(args) > 2 {
		return errUsage
	}
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		host, _, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			host = ""
		}
		cfg.ListenAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if len(args) == 2 {
		mode, err := server.ParseMode(args[1])
		if err != nil {
			return err
		}
		cfg.Mode = string(mode)
	}
	return nil
}
