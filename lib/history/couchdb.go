// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/camille/lib/secret"
)

// maxCouchResponse bounds document reads.
const maxCouchResponse = 32 << 20

// CouchDocumentsConfig configures CouchDocuments.
type CouchDocumentsConfig struct {
	// URL is the database URL, for example
	// "http://couch:5984/camille". Required.
	URL string

	// Username and Password enable basic authentication when Username
	// is non-empty.
	Username string
	Password *secret.Buffer

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// CouchDocuments is a Documents backend on a CouchDB database. CouchDB
// supplies the revision check itself: a PUT carrying a stale _rev is
// answered with 409.
type CouchDocuments struct {
	base       *url.URL
	username   string
	password   *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCouchDocuments validates config and returns a CouchDocuments.
func NewCouchDocuments(config CouchDocumentsConfig) (*CouchDocuments, error) {
	base, err := url.Parse(strings.TrimSuffix(config.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("history: parsing couchdb URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("history: couchdb URL %q must be http or https", config.URL)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &CouchDocuments{
		base:       base,
		username:   config.Username,
		password:   config.Password,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}, nil
}

// Load implements Documents. The returned body has CouchDB's _id and
// _rev fields removed.
func (d *CouchDocuments) Load(ctx context.Context, key string) (string, []byte, error) {
	response, body, err := d.do(ctx, http.MethodGet, key, nil, nil)
	if err != nil {
		return "", nil, err
	}
	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		return "", nil, couchError(http.MethodGet, key, response.StatusCode, body)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", nil, fmt.Errorf("history: decoding couchdb document %s: %w", key, err)
	}
	revision := strings.Trim(response.Header.Get("ETag"), `"`)
	if revision == "" {
		var rev string
		if raw, ok := fields["_rev"]; ok {
			_ = json.Unmarshal(raw, &rev)
		}
		revision = rev
	}
	delete(fields, "_id")
	delete(fields, "_rev")
	document, err := json.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("history: re-encoding couchdb document %s: %w", key, err)
	}
	return revision, document, nil
}

// Save implements Documents.
func (d *CouchDocuments) Save(ctx context.Context, key, revision string, document []byte) (string, error) {
	var query url.Values
	if revision != "" {
		query = url.Values{"rev": {revision}}
	}
	response, body, err := d.do(ctx, http.MethodPut, key, query, document)
	if err != nil {
		return "", err
	}
	switch response.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusConflict:
		return "", fmt.Errorf("%w: %s at revision %q", ErrConflict, key, revision)
	default:
		return "", couchError(http.MethodPut, key, response.StatusCode, body)
	}

	var result struct {
		OK  bool   `json:"ok"`
		Rev string `json:"rev"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("history: decoding couchdb save response for %s: %w", key, err)
	}
	if result.Rev == "" {
		return "", fmt.Errorf("history: couchdb save of %s returned no revision", key)
	}
	return result.Rev, nil
}

func (d *CouchDocuments) do(ctx context.Context, method, key string, query url.Values, payload []byte) (*http.Response, []byte, error) {
	target := *d.base
	target.Path = d.base.Path + "/" + url.PathEscape(key)
	target.RawPath = ""
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, nil, fmt.Errorf("history: building couchdb request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if d.username != "" {
		password := ""
		if d.password != nil {
			password = d.password.String()
		}
		request.SetBasicAuth(d.username, password)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return nil, nil, fmt.Errorf("history: couchdb %s %s: %w", method, key, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(io.LimitReader(response.Body, maxCouchResponse))
	if err != nil {
		return nil, nil, fmt.Errorf("history: reading couchdb response for %s: %w", key, err)
	}
	return response, data, nil
}

func couchError(method, key string, status int, body []byte) error {
	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("history: couchdb %s %s: %d %s: %s", method, key, status, payload.Error, payload.Reason)
	}
	return fmt.Errorf("history: couchdb %s %s: unexpected status %d", method, key, status)
}
