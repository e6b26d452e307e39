// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by clixows
const (
	EnvHost     = "XOWS_HOST"
	EnvUsername = "XOWS_USERNAME"
	EnvPassword = "XOWS_PASSWORD"
)

// Config holds the connection settings of one device
type Config struct {
	Host              string        `yaml:"host"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Timeout           time.Duration `yaml:"timeout"`
	VerifyCertificate bool          `yaml:"verify_certificate"`
	LogLevel          string        `yaml:"log_level"`
}

// defaultConfig returns the settings used when nothing else is given
func defaultConfig() Config {
	return Config{
		Username: "admin",
		Timeout:  30 * time.Second,
		LogLevel: "warn",
	}
}

// loadConfig reads a YAML config file
//
// Example file:
//
//	host: codec.example.com
//	username: integrator
//	password: secret
//	timeout: 45s
//	verify_certificate: true
//	log_level: info
func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("parse config %s: timeout must not be negative", path)
	}
	return cfg, nil
}

// merge overlays the non-zero fields of o onto c
func (c Config) merge(o Config) Config {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.VerifyCertificate {
		c.VerifyCertificate = true
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return c
}

// fromEnv returns the settings found in the environment
func fromEnv(getenv func(string) string) Config {
	return Config{
		Host:     getenv(EnvHost),
		Username: getenv(EnvUsername),
		Password: getenv(EnvPassword),
	}
}
