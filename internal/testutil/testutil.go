// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"log"
	"math/rand"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func init() {
	// For test, the date is irrelevant, but microseconds are.
	log.SetFlags(log.Lmicroseconds)
}

// VerboseTest returns true if the testing framework is run DEBUG=1.
func VerboseTest() bool {
	val := os.Getenv("DEBUG")
	return val == "1"
}

// Logger returns a test logger; silent unless DEBUG=1.
func Logger(t *testing.T) *zap.Logger {
	if !VerboseTest() {
		return zap.NewNop()
	}
	return zaptest.NewLogger(t)
}

// RandBytes fills out deterministically from seed. Tests use it for
// reproducible varchar payloads.
func RandBytes(out []byte, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Read(out)
}
