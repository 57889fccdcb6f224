// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/manager"
)

func newTestJar(t *testing.T) *cookiejar.CookieJar {
	t.Helper()
	store, err := cookiejar.OpenBadgerStore("")
	require.NoError(t, err)
	jar, err := cookiejar.New(store, cookiejar.WithDebug(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jar.Close() })
	return jar
}

func newTestRouter(t *testing.T) (*gin.Engine, *cookiejar.CookieJar) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jar := newTestJar(t)
	mgr := manager.New(jar, nil, nil, nil)
	return NewRouter(NewHandlers(jar, mgr, nil)), jar
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleQueueLength(t *testing.T) {
	router, jar := newTestRouter(t)
	require.NoError(t, jar.Enrich(context.Background(), "a", cookiejar.Enrichment{Source: "s"}))

	rec := doRequest(t, router, http.MethodGet, "/queue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.QueueLength)
}

func TestHandleFetchCookieNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/cookiejar/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFetchCookieFound(t *testing.T) {
	router, jar := newTestRouter(t)
	require.NoError(t, jar.Enrich(context.Background(), "a", cookiejar.Enrichment{Source: "s"}))

	rec := doRequest(t, router, http.MethodGet, "/cookiejar/a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CookieResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a", resp.ID)
	require.Len(t, resp.Enrichments, 1)
}

func TestHandleFetchCookieQueryIdentifierForLeadingSlash(t *testing.T) {
	router, jar := newTestRouter(t)
	require.NoError(t, jar.Enrich(context.Background(), "/weird/id", cookiejar.Enrichment{Source: "s"}))

	rec := doRequest(t, router, http.MethodGet, "/cookiejar?identifier=%2Fweird%2Fid", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CookieResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/weird/id", resp.ID)
}

func TestHandleDeleteCookie(t *testing.T) {
	router, jar := newTestRouter(t)
	require.NoError(t, jar.Enrich(context.Background(), "a", cookiejar.Enrichment{Source: "s"}))

	rec := doRequest(t, router, http.MethodDelete, "/cookiejar/a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := jar.Fetch(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleReprocess(t *testing.T) {
	router, jar := newTestRouter(t)
	require.NoError(t, jar.Enrich(context.Background(), "a", cookiejar.Enrichment{Source: "s"}))
	_, err := jar.NextForProcessing(context.Background(), 0)
	require.NoError(t, err)
	dirty, _ := jar.Length()
	require.Equal(t, 0, dirty)

	body, err := json.Marshal(ReprocessRequest{Path: "a"})
	require.NoError(t, err)
	rec := doRequest(t, router, http.MethodPost, "/queue/reprocess", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, jar.MarkComplete(context.Background(), "a"))
	dirty, _ = jar.Length()
	assert.Equal(t, 1, dirty, "reprocess while in flight must redirty on release")
}

func TestHandleReprocessValidatesBody(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodPost, "/queue/reprocess", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireJSONAcceptRejectsOtherTypes(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDumpThreads(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/debug/threads", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []WorkerStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp)
}
