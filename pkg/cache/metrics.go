package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierMemory  = "memory"
	tierDurable = "durable"
	tierCompute = "compute"
)

var cacheOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "Cache operations by operation and tier",
	},
	[]string{"op", "tier"},
)
