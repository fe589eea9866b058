// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("mm-token-abc")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if buffer.String() != "mm-token-abc" {
		t.Errorf("String() = %q", buffer.String())
	}
	if buffer.Len() != len("mm-token-abc") {
		t.Errorf("Len() = %d", buffer.Len())
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %d, want 0", index, value)
		}
	}
}

func TestNewFromBytesEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestCloseIdempotent(t *testing.T) {
	buffer, err := NewFromString("key")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var nilBuffer *Buffer
	if err := nilBuffer.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestStringAfterClosePanics(t *testing.T) {
	buffer, err := NewFromString("key")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("String() after Close did not panic")
		}
	}()
	_ = buffer.String()
}

func TestReadFileTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  sk-test-123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	buffer, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer buffer.Close()
	if buffer.String() != "sk-test-123" {
		t.Errorf("String() = %q, want sk-test-123", buffer.String())
	}
}

func TestReadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for whitespace-only file")
	}
}
