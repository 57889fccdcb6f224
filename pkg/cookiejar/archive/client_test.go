// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientNonExistentSAKeyPath(t *testing.T) {
	_, err := NewClient(context.Background(), "bucket", "prefix", "/nonexistent/key.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/key.json")
}

func TestNewClientDirectoryInsteadOfFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewClient(context.Background(), "bucket", "prefix", dir)
	assert.Error(t, err)
}

// TestNewClientEmptySAKeyPathSkipsFileCheck documents that an empty saKeyPath
// means application-default credentials, not an error — it may still fail
// to build a storage client without ambient credentials, which this test
// does not assert on either way.
func TestNewClientEmptySAKeyPathSkipsFileCheck(t *testing.T) {
	_, err := NewClient(context.Background(), "bucket", "prefix", "")
	if err != nil {
		assert.NotContains(t, err.Error(), "service account key")
	}
}

func TestNewClientIntegration(t *testing.T) {
	bucket := os.Getenv("COOKIEMONSTER_GCS_TEST_BUCKET")
	keyPath := os.Getenv("COOKIEMONSTER_GCS_TEST_KEY_PATH")
	if bucket == "" || keyPath == "" {
		t.Skip("skipping integration test: COOKIEMONSTER_GCS_TEST_BUCKET and COOKIEMONSTER_GCS_TEST_KEY_PATH not set")
	}

	client, err := NewClient(context.Background(), bucket, "test-prefix", keyPath)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.ArchiveCookie(context.Background(), "integration-test-id", map[string]any{"k": "v"}))
}

func TestNewClientIntegrationRejectsInvalidKeyFile(t *testing.T) {
	bucket := os.Getenv("COOKIEMONSTER_GCS_TEST_BUCKET")
	if bucket == "" {
		t.Skip("skipping integration test: COOKIEMONSTER_GCS_TEST_BUCKET not set")
	}

	tmp := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(tmp, []byte("not a real key"), 0o644))
	_, err := NewClient(context.Background(), bucket, "prefix", tmp)
	assert.Error(t, err)
}
