// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Spillway is a block engine for large temporary tables. A query
// executor stores intermediate tuple results in fixed-size,
// self-contained blocks that can be spilled to disk and reloaded at a
// different address, and sorts multi-block tables with an in-place
// block sort followed by a k-way merge.
//
// Go to https://godoc.org/github.com/spillway-db/spillway/block for
// the block layout, and .../extsort for the sort driver.
package lib
