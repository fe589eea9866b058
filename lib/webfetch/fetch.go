// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/bureau-foundation/camille/lib/version"
)

const (
	// DefaultMaxBody bounds how much of a response is read.
	DefaultMaxBody = 2 << 20

	// DefaultMaxOutput bounds the text handed back to the model.
	DefaultMaxOutput = 16 << 10

	truncationMarker = "\n\n[truncated]"
)

// Config configures a Fetcher. Zero values select the defaults.
type Config struct {
	HTTPClient *http.Client
	UserAgent  string
	MaxBody    int64
	MaxOutput  int
	Logger     *slog.Logger
}

// Fetcher downloads pages for the fetch_url tool.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	maxOutput int
	logger    *slog.Logger
}

// New returns a Fetcher.
func New(config Config) *Fetcher {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.UserAgent == "" {
		config.UserAgent = version.UserAgent()
	}
	if config.MaxBody <= 0 {
		config.MaxBody = DefaultMaxBody
	}
	if config.MaxOutput <= 0 {
		config.MaxOutput = DefaultMaxOutput
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Fetcher{
		client:    config.HTTPClient,
		userAgent: config.UserAgent,
		maxBody:   config.MaxBody,
		maxOutput: config.MaxOutput,
		logger:    config.Logger,
	}
}

// Fetch retrieves rawURL and returns its readable text. Only http and
// https URLs are accepted. A non-2xx status is an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("webfetch: parsing URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("webfetch: unsupported URL scheme %q", target.Scheme)
	}
	if target.Host == "" {
		return "", fmt.Errorf("webfetch: URL %q has no host", rawURL)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("webfetch: building request: %w", err)
	}
	request.Header.Set("User-Agent", f.userAgent)
	request.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	response, err := f.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("webfetch: fetching %s: %w", target.Redacted(), err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("webfetch: fetching %s: %s", target.Redacted(), response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, f.maxBody))
	if err != nil {
		return "", fmt.Errorf("webfetch: reading %s: %w", target.Redacted(), err)
	}

	var text string
	mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err = ExtractText(strings.NewReader(string(body)))
		if err != nil {
			return "", fmt.Errorf("webfetch: parsing %s: %w", target.Redacted(), err)
		}
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "":
		text = string(body)
	default:
		return "", fmt.Errorf("webfetch: %s has unsupported content type %q", target.Redacted(), mediaType)
	}

	text = Truncate(text, f.maxOutput)
	f.logger.Debug("page fetched",
		"url", target.Redacted(),
		"status", response.StatusCode,
		"content_type", mediaType,
		"body_bytes", len(body),
		"text_bytes", len(text),
	)
	return text, nil
}

// skippedElements contribute no readable text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
	"head":     true,
}

// blockElements start a new line.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true,
	"pre": true, "blockquote": true, "title": true, "table": true,
}

// ExtractText returns the visible text of an HTML document, one block
// per line. The title, when present, is the first line.
func ExtractText(reader io.Reader) (string, error) {
	document, err := html.Parse(reader)
	if err != nil {
		return "", err
	}

	var lines []string
	var current strings.Builder
	flush := func() {
		line := strings.Join(strings.Fields(current.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	if title := findTitle(document); title != "" {
		lines = append(lines, title)
	}

	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			current.WriteString(node.Data)
			current.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedElements[node.Data] {
				return
			}
		}
		block := node.Type == html.ElementNode && blockElements[node.Data]
		if block {
			flush()
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if block {
			flush()
		}
	}
	walk(document)
	flush()
	return strings.Join(lines, "\n"), nil
}

func findTitle(node *html.Node) string {
	if node.Type == html.ElementNode && node.Data == "title" {
		var builder strings.Builder
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.TextNode {
				builder.WriteString(child.Data)
			}
		}
		return strings.Join(strings.Fields(builder.String()), " ")
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if title := findTitle(child); title != "" {
			return title
		}
	}
	return ""
}

// Truncate cuts text to at most limit bytes on a rune boundary,
// appending a marker when anything was removed.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := max(limit-len(truncationMarker), 0)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker
}
