// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"github.com/go-openapi/strfmt"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
)

// ErrorResponse is the JSON body the handlers and the Accept middleware
// return on their error paths (spec.md §7 "HTTP malformed request"). Gin's
// own 404 for unknown routes and gin.Recovery's 500 do not use it.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// QueueResponse answers GET /queue (spec.md §6).
type QueueResponse struct {
	QueueLength int `json:"queue_length"`
}

// ReprocessRequest is the body of POST /queue/reprocess.
type ReprocessRequest struct {
	Path string `json:"path" validate:"required"`
}

// ReprocessResponse echoes the reprocessed id.
type ReprocessResponse struct {
	Path string `json:"path"`
}

// EnrichmentResponse is the JSON shape of one logged enrichment.
type EnrichmentResponse struct {
	Source    string         `json:"source"`
	Timestamp strfmt.DateTime `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// CookieResponse is the JSON shape of GET /cookiejar/<id>.
type CookieResponse struct {
	ID          string               `json:"id"`
	Enrichments []EnrichmentResponse `json:"enrichments"`
}

func cookieToResponse(c cookiejar.Cookie) CookieResponse {
	enrichments := make([]EnrichmentResponse, len(c.Enrichments))
	for i, e := range c.Enrichments {
		enrichments[i] = EnrichmentResponse{
			Source:    e.Source,
			Timestamp: strfmt.DateTime(e.Timestamp),
			Metadata:  e.Metadata,
		}
	}
	return CookieResponse{ID: string(c.ID), Enrichments: enrichments}
}

// WorkerStateResponse is one entry of GET /debug/threads.
type WorkerStateResponse struct {
	WorkerID  int             `json:"worker_id"`
	State     string          `json:"state"`
	CookieID  string          `json:"cookie_id,omitempty"`
	Since     strfmt.DateTime `json:"since"`
	StackNote string          `json:"stack_note,omitempty"`
}
