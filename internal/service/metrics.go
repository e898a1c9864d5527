package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayvista_booking_outcomes_total",
			Help: "Terminal states reached by booking attempts",
		},
		[]string{"state"},
	)
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stayvista_booking_stage_duration_seconds",
			Help:    "Time spent in each booking stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stayvista_booking_compensations_total",
			Help: "Compensating actions by kind and result",
		},
		[]string{"action", "result"},
	)
)
