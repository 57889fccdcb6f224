// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi is the thin JSON reflector over the jar and manager
// named in spec.md §4.6, §6.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"

	"github.com/cookiemonster/cookiemonster/pkg/cookiejar"
	"github.com/cookiemonster/cookiemonster/pkg/logging"
	"github.com/cookiemonster/cookiemonster/pkg/manager"
)

// Handlers wires the jar and manager to a gin.Engine (spec.md §6).
type Handlers struct {
	jar      *cookiejar.CookieJar
	manager  *manager.Manager
	validate *validator.Validate
	logger   *logging.Logger
}

// NewHandlers constructs Handlers over jar and mgr.
func NewHandlers(jar *cookiejar.CookieJar, mgr *manager.Manager, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{jar: jar, manager: mgr, validate: validator.New(), logger: logger}
}

// NewRouter builds a gin.Engine with every endpoint from spec.md §6
// registered, requiring "application/json" in the Accept header.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requireJSONAccept())

	r.GET("/queue", h.handleQueueLength)
	r.POST("/queue/reprocess", h.handleReprocess)
	r.GET("/cookiejar", h.handleFetchCookie)
	r.GET("/cookiejar/*id", h.handleFetchCookie)
	r.DELETE("/cookiejar", h.handleDeleteCookie)
	r.DELETE("/cookiejar/*id", h.handleDeleteCookie)
	r.GET("/debug/threads", h.handleDumpThreads)

	return r
}

// requireJSONAccept enforces spec.md §6's "All requests must include
// application/json in their Accept header" contract.
func requireJSONAccept() gin.HandlerFunc {
	return func(c *gin.Context) {
		accept := c.GetHeader("Accept")
		if !strings.Contains(accept, "application/json") {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Accept header must include application/json",
				Code:  "INVALID_ACCEPT",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cookieIdentifier resolves the path- or query-form id per spec.md §6:
// "Identifiers beginning with / MUST use the query-string form."
func cookieIdentifier(c *gin.Context) (cookiejar.ID, bool) {
	if id := c.Query("identifier"); id != "" {
		return cookiejar.ID(id), true
	}
	if raw := c.Param("id"); raw != "" {
		id := strings.TrimPrefix(raw, "/")
		if id != "" {
			return cookiejar.ID(id), true
		}
	}
	return "", false
}

func (h *Handlers) handleQueueLength(c *gin.Context) {
	dirty, inFlight := h.jar.Length()
	c.JSON(http.StatusOK, QueueResponse{QueueLength: dirty + inFlight})
}

func (h *Handlers) handleReprocess(c *gin.Context) {
	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_FAILED"})
		return
	}

	h.jar.MarkDirty(cookiejar.ID(req.Path))
	c.JSON(http.StatusOK, ReprocessResponse{Path: req.Path})
}

func (h *Handlers) handleFetchCookie(c *gin.Context) {
	id, ok := cookieIdentifier(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing cookie identifier", Code: "MISSING_ID"})
		return
	}

	cookie, found, err := h.jar.Fetch(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("fetch failed", "id", string(id), "error", err.Error())
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "FETCH_FAILED"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "cookie not found", Code: "NOT_FOUND"})
		return
	}

	c.JSON(http.StatusOK, cookieToResponse(cookie))
}

func (h *Handlers) handleDeleteCookie(c *gin.Context) {
	id, ok := cookieIdentifier(c)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing cookie identifier", Code: "MISSING_ID"})
		return
	}

	if err := h.jar.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("delete failed", "id", string(id), "error", err.Error())
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DELETE_FAILED"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handlers) handleDumpThreads(c *gin.Context) {
	states := h.manager.DumpThreads()
	out := make([]WorkerStateResponse, len(states))
	for i, s := range states {
		out[i] = WorkerStateResponse{
			WorkerID:  s.WorkerID,
			State:     s.State,
			CookieID:  s.CookieID,
			Since:     strfmt.DateTime(s.Since),
			StackNote: s.StackNote,
		}
	}
	c.JSON(http.StatusOK, out)
}
