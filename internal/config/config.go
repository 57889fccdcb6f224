// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config reads Cookie Monster's process configuration from
// COOKIEMONSTER_* environment variables (SPEC_FULL.md §6 "Config").
package config

import (
	"os"
	"strconv"
)

// Config is the full set of process-level settings read at startup.
type Config struct {
	// Port is the HTTP façade's listen port.
	Port int

	// WorkerCount is the number of ProcessorManager workers.
	WorkerCount int

	// DataDir is the badger data directory. Empty means in-memory
	// (non-persistent), used for local development and tests.
	DataDir string

	// RulePluginDir, LoaderPluginDir, ReceiverPluginDir are the roots
	// watched by the three plug-in registries.
	RulePluginDir     string
	LoaderPluginDir   string
	ReceiverPluginDir string

	// ArchiveBucket, when non-empty, enables best-effort GCS archival of
	// completed cookies. ArchiveKeyPath may be empty to use
	// application-default credentials.
	ArchiveBucket  string
	ArchivePrefix  string
	ArchiveKeyPath string

	// Debug disables the jar's retry-with-backoff wrapper so backing
	// store errors surface immediately (spec.md §9).
	Debug bool

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// LogDir, if set, enables file logging in addition to stderr.
	LogDir string
}

// FromEnv reads Config from the environment, applying documented defaults
// for anything unset.
func FromEnv() Config {
	return Config{
		Port:              envInt("COOKIEMONSTER_PORT", 8080),
		WorkerCount:       envInt("COOKIEMONSTER_WORKERS", 4),
		DataDir:           os.Getenv("COOKIEMONSTER_DATA_DIR"),
		RulePluginDir:     envString("COOKIEMONSTER_RULE_PLUGIN_DIR", "examples/plugins"),
		LoaderPluginDir:   envString("COOKIEMONSTER_LOADER_PLUGIN_DIR", "examples/plugins"),
		ReceiverPluginDir: envString("COOKIEMONSTER_RECEIVER_PLUGIN_DIR", "examples/plugins"),
		ArchiveBucket:     os.Getenv("COOKIEMONSTER_ARCHIVE_BUCKET"),
		ArchivePrefix:     envString("COOKIEMONSTER_ARCHIVE_PREFIX", "cookies"),
		ArchiveKeyPath:    os.Getenv("COOKIEMONSTER_ARCHIVE_KEY_PATH"),
		Debug:             envBool("COOKIEMONSTER_DEBUG", false),
		LogLevel:          envString("COOKIEMONSTER_LOG_LEVEL", "info"),
		LogDir:            os.Getenv("COOKIEMONSTER_LOG_DIR"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
