package mapping

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	layerTSDF   = "tsdf"
	layerLabels = "labels"
)

var (
	mapPrometheusMetrics sync.Once

	mapIntegratedPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxelmap",
			Subsystem: "mapping",
			Name:      "integrated_points_total",
			Help:      "Number of points fused into a layer.",
		},
		[]string{"layer"})
	mapSkippedPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voxelmap",
			Subsystem: "mapping",
			Name:      "skipped_points_total",
			Help:      "Number of points a layer discarded as invalid or out of range.",
		},
		[]string{"layer"})
	mapRejectedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "voxelmap",
			Subsystem: "mapping",
			Name:      "rejected_frames_total",
			Help:      "Number of frames rejected before fusion.",
		})
	mapIntegrationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "voxelmap",
			Subsystem: "mapping",
			Name:      "integration_duration_seconds",
			Help:      "Time spent fusing one frame into every layer, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2.0, 18),
		})
	mapAllocatedBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voxelmap",
			Subsystem: "mapping",
			Name:      "allocated_blocks",
			Help:      "Number of blocks allocated by the most recently updated map, per layer.",
		},
		[]string{"layer"})

	mapIntegratedPointsTSDF   = mapIntegratedPoints.WithLabelValues(layerTSDF)
	mapIntegratedPointsLabels = mapIntegratedPoints.WithLabelValues(layerLabels)
	mapSkippedPointsTSDF      = mapSkippedPoints.WithLabelValues(layerTSDF)
	mapSkippedPointsLabels    = mapSkippedPoints.WithLabelValues(layerLabels)
	mapAllocatedBlocksTSDF    = mapAllocatedBlocks.WithLabelValues(layerTSDF)
	mapAllocatedBlocksLabels  = mapAllocatedBlocks.WithLabelValues(layerLabels)
)

func registerMetrics() {
	mapPrometheusMetrics.Do(func() {
		prometheus.MustRegister(mapIntegratedPoints)
		prometheus.MustRegister(mapSkippedPoints)
		prometheus.MustRegister(mapRejectedFrames)
		prometheus.MustRegister(mapIntegrationDurationSeconds)
		prometheus.MustRegister(mapAllocatedBlocks)
	})
}
