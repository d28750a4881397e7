package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	FixesReceived    atomic.Int64
	FixesAccepted    atomic.Int64
	FixesRejected    atomic.Int64
	FixesLate        atomic.Int64
	FixesDuplicate   atomic.Int64
	IngestDrops      atomic.Int64
	ReorderOverflows atomic.Int64
	FixesFailed      atomic.Int64

	SinkWriteSuccess  atomic.Int64
	SinkWriteFailures atomic.Int64
	SinkRetries       atomic.Int64

	NotificationsSent   atomic.Int64
	NotificationsFailed atomic.Int64
	NotificationDrops   atomic.Int64

	WaypointWriteSuccess  atomic.Int64
	WaypointWriteFailures atomic.Int64
	WaypointChannelDrops  atomic.Int64
	StateChannelDrops     atomic.Int64

	TripsClosed        atomic.Int64
	StopsClosed        atomic.Int64
	SegmentsTimedOut   atomic.Int64
	Checkpoints        atomic.Int64
	CheckpointFailures atomic.Int64
	AggregationRuns    atomic.Int64
	ActiveDevices      atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "telematics_fixes_received_total %d\n", FixesReceived.Load())
	fmt.Fprintf(w, "telematics_fixes_accepted_total %d\n", FixesAccepted.Load())
	fmt.Fprintf(w, "telematics_fixes_rejected_total %d\n", FixesRejected.Load())
	fmt.Fprintf(w, "telematics_fixes_late_total %d\n", FixesLate.Load())
	fmt.Fprintf(w, "telematics_fixes_duplicate_total %d\n", FixesDuplicate.Load())
	fmt.Fprintf(w, "telematics_fixes_failed_total %d\n", FixesFailed.Load())
	fmt.Fprintf(w, "telematics_ingest_drops_total %d\n", IngestDrops.Load())
	fmt.Fprintf(w, "telematics_reorder_overflows_total %d\n", ReorderOverflows.Load())
	fmt.Fprintf(w, "telematics_sink_write_success_total %d\n", SinkWriteSuccess.Load())
	fmt.Fprintf(w, "telematics_sink_write_failures_total %d\n", SinkWriteFailures.Load())
	fmt.Fprintf(w, "telematics_sink_retries_total %d\n", SinkRetries.Load())
	fmt.Fprintf(w, "telematics_notifications_sent_total %d\n", NotificationsSent.Load())
	fmt.Fprintf(w, "telematics_notifications_failed_total %d\n", NotificationsFailed.Load())
	fmt.Fprintf(w, "telematics_notification_drops_total %d\n", NotificationDrops.Load())
	fmt.Fprintf(w, "telematics_waypoint_write_success_total %d\n", WaypointWriteSuccess.Load())
	fmt.Fprintf(w, "telematics_waypoint_write_failures_total %d\n", WaypointWriteFailures.Load())
	fmt.Fprintf(w, "telematics_waypoint_channel_drops_total %d\n", WaypointChannelDrops.Load())
	fmt.Fprintf(w, "telematics_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "telematics_trips_closed_total %d\n", TripsClosed.Load())
	fmt.Fprintf(w, "telematics_stops_closed_total %d\n", StopsClosed.Load())
	fmt.Fprintf(w, "telematics_segments_timed_out_total %d\n", SegmentsTimedOut.Load())
	fmt.Fprintf(w, "telematics_checkpoints_total %d\n", Checkpoints.Load())
	fmt.Fprintf(w, "telematics_checkpoint_failures_total %d\n", CheckpointFailures.Load())
	fmt.Fprintf(w, "telematics_aggregation_runs_total %d\n", AggregationRuns.Load())
	fmt.Fprintf(w, "telematics_active_devices %d\n", ActiveDevices.Load())
}
