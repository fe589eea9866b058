// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a structured error response from the Mattermost server.
// Callers extract it with errors.As:
//
//	var apiErr *APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden { ... }
type APIError struct {
	// ID is the server's error identifier, e.g.
	// "app.user.missing_account.const".
	ID string `json:"id"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// RequestID correlates with the server's own logs.
	RequestID string `json:"request_id"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"status_code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mattermost: %s (%d): %s", e.ID, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an *APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
