// Copyright 2025 the Spillway Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockcache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cachePrometheusMetrics sync.Once

	cacheFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spillway",
			Subsystem: "blockcache",
			Name:      "fetches_total",
			Help:      "Number of block fetches, split by whether the block was resident",
		},
		[]string{"name", "result"})
	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spillway",
			Subsystem: "blockcache",
			Name:      "evictions_total",
			Help:      "Number of blocks spilled to the topend",
		},
		[]string{"name"})
	cacheSpilledBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spillway",
			Subsystem: "blockcache",
			Name:      "spilled_bytes_total",
			Help:      "Payload bytes handed to the topend",
		},
		[]string{"name"})
	cacheResidentBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spillway",
			Subsystem: "blockcache",
			Name:      "resident_blocks",
			Help:      "Blocks currently holding their storage",
		},
		[]string{"name"})
)

type cacheMetrics struct {
	fetchHit       prometheus.Counter
	fetchMiss      prometheus.Counter
	evictions      prometheus.Counter
	spilledBytes   prometheus.Counter
	residentBlocks prometheus.Gauge
}

func newCacheMetrics(name string) cacheMetrics {
	cachePrometheusMetrics.Do(func() {
		prometheus.MustRegister(cacheFetches)
		prometheus.MustRegister(cacheEvictions)
		prometheus.MustRegister(cacheSpilledBytes)
		prometheus.MustRegister(cacheResidentBlocks)
	})
	return cacheMetrics{
		fetchHit:       cacheFetches.WithLabelValues(name, "resident"),
		fetchMiss:      cacheFetches.WithLabelValues(name, "reload"),
		evictions:      cacheEvictions.WithLabelValues(name),
		spilledBytes:   cacheSpilledBytes.WithLabelValues(name),
		residentBlocks: cacheResidentBlocks.WithLabelValues(name),
	}
}
