// Package metrics exposes the cross-cutting Prometheus counters and gauges the rest of the
// worker updates: room claims by discovery channel, sink overflow drops, and active STT streams.
// The teacher itself carries no metrics library; this is an ecosystem addition for a concern it
// doesn't cover (DESIGN.md).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RoomClaims counts successful ClaimRoom calls by the discovery channel that surfaced the
	// candidate ("polling", "notify", "realtime").
	RoomClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcription_worker",
		Name:      "room_claims_total",
		Help:      "Rooms successfully claimed, by discovery channel.",
	}, []string{"channel"})

	// RoomClaimConflicts counts ClaimRoom attempts that lost the race to another worker.
	RoomClaimConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcription_worker",
		Name:      "room_claim_conflicts_total",
		Help:      "ClaimRoom attempts that found the room already claimed.",
	})

	// SinkDrops counts transcript rows dropped by the sink for queue overflow.
	SinkDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "transcription_worker",
		Name:      "sink_dropped_rows_total",
		Help:      "Transcript rows dropped for queue overflow.",
	})

	// ActiveSTTStreams is the number of currently Active stt.Client sessions across all owned
	// rooms on this worker.
	ActiveSTTStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcription_worker",
		Name:      "active_stt_streams",
		Help:      "Number of streaming STT sessions currently active.",
	})

	// OwnedRooms is the number of rooms this worker currently owns.
	OwnedRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transcription_worker",
		Name:      "owned_rooms",
		Help:      "Number of rooms this worker process currently owns.",
	})

	// AIJobsProcessed counts completed and failed AI jobs by outcome.
	AIJobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transcription_worker",
		Name:      "ai_jobs_processed_total",
		Help:      "AI jobs processed, by outcome (completed, failed).",
	}, []string{"outcome"})
)

// Register adds every collector to reg. Call once at startup with
// prometheus.DefaultRegisterer (or a test registry).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(RoomClaims, RoomClaimConflicts, SinkDrops, ActiveSTTStreams, OwnedRooms, AIJobsProcessed)
}
