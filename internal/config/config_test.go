// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("COOKIEMONSTER_PORT", "9999")
	t.Setenv("COOKIEMONSTER_WORKERS", "16")
	t.Setenv("COOKIEMONSTER_DEBUG", "true")
	t.Setenv("COOKIEMONSTER_LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 16, cfg.WorkerCount)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvInvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("COOKIEMONSTER_PORT", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, 8080, cfg.Port)
}
