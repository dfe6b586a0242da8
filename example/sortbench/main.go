// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sortbench fills a multi-block temp table with random tuples, sorts
// it, and checks the result. Exit status 0 means every iteration
// verified.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/spillway-db/spillway/block"
	"github.com/spillway-db/spillway/blockcache"
	"github.com/spillway-db/spillway/extsort"
	"github.com/spillway-db/spillway/schema"
	"github.com/spillway-db/spillway/table"
)

const fillBlocks = 8

func main() {
	iterations := flag.Int("n", 1, "number of sort iterations")
	varWidth := flag.Int("v", 256, "variable-length column width in bytes")
	padWidth := flag.Int("i", 32, "inline padding column width in bytes")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	log := zap.Must(logConfig.Build())
	defer log.Sync()

	if err := run(log, *iterations, *varWidth, *padWidth); err != nil {
		log.Error("sortbench failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(log *zap.Logger, iterations, varWidth, padWidth int) error {
	dir, err := os.MkdirTemp("", "sortbench")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	topend, err := blockcache.NewDiskTopend(filepath.Join(dir, "spill.dat"), log)
	if err != nil {
		return err
	}
	// The merge pins one block per run plus the output block, so the
	// resident bound must be at least fillBlocks+1. Spill traffic comes
	// from the churn table below.
	cache := blockcache.New(blockcache.Options{
		MaxResident: fillBlocks + 2,
		Topend:      topend,
		Logger:      log,
		Name:        "sortbench",
	})
	defer cache.Close()

	cols := []schema.Column{
		schema.BigIntColumn("id"),
		schema.VarcharColumn("payload"),
	}
	if padWidth > 0 {
		cols = append(cols, schema.CharColumn("pad", padWidth))
	}
	sch := schema.New(cols...)
	less := func(a, b []byte) bool {
		av, _ := sch.RowBigInt(a, 0)
		bv, _ := sch.RowBigInt(b, 0)
		return av < bv
	}

	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < iterations; iter++ {
		// churn competes for residency so the input blocks actually
		// spill and get reloaded during the sort.
		in := table.New(cache, sch)
		churn := table.New(cache, sch)
		tp := sch.NewTuple()
		payload := make([]byte, varWidth)
		n := 0
		for in.BlockCount() < fillBlocks {
			rng.Read(payload)
			tp.SetBigInt(0, rng.Int63())
			tp.SetVarchar(1, payload)
			if err := in.Append(tp); err != nil {
				return err
			}
			if err := churn.Append(tp); err != nil {
				return err
			}
			n++
		}
		in.FinishInserts()
		if err := churn.Destroy(); err != nil {
			return err
		}
		log.Info("filled table",
			zap.Int("iteration", iter),
			zap.Int("tuples", n),
			zap.Int("blocks", in.BlockCount()))

		out, err := extsort.Sort(cache, in, less, extsort.Options{Logger: log})
		if err != nil {
			return err
		}
		if err := verify(sch, out, n); err != nil {
			out.Destroy()
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		if err := out.Destroy(); err != nil {
			return err
		}
		log.Info("iteration verified", zap.Int("iteration", iter))
	}
	return nil
}

func verify(sch *schema.Schema, out *table.TempTable, want int) error {
	if got := out.TupleCount(); got != want {
		return fmt.Errorf("sorted %d tuples, want %d", got, want)
	}
	var prev int64
	first := true
	count := 0
	err := out.Scan(func(b *block.Block, row []byte) error {
		v, _ := sch.RowBigInt(row, 0)
		if _, ok := b.RowVarchar(row, 1); !ok {
			return fmt.Errorf("tuple %d: NULL payload", count)
		}
		if !first && v < prev {
			return fmt.Errorf("tuple %d: out of order: %d after %d", count, v, prev)
		}
		prev = v
		first = false
		count++
		return nil
	})
	if err != nil {
		return err
	}
	if count != want {
		return fmt.Errorf("scanned %d tuples, want %d", count, want)
	}
	return nil
}
