package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Events received by the ingestor, by outcome",
		},
		[]string{"result"}, // processed, failed, duplicate, rejected
	)

	attributionConversions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_conversions_total",
			Help: "Conversions credited to a popup impression",
		},
	)

	rollupBucketsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_buckets_upserted_total",
			Help: "Aggregation buckets written",
		},
		[]string{"granularity"},
	)
)
