// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// Fatal writes "camille: err" to stderr and exits with code 1. Use it
// in main() for errors returned from run().
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(1)
}

func report(writer io.Writer, err error) {
	fmt.Fprintf(writer, "camille: %v\n", err)
}
