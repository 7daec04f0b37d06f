package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metric names.
	MetricNameBuildInfo         = "meshring_build_info"
	MetricNameFramesDropped     = "meshring_frames_dropped_total"
	MetricNameSendErrors        = "meshring_send_errors_total"
	MetricNamePayloadsDelivered = "meshring_payloads_delivered_total"
	MetricNamePingsSent         = "meshring_pings_sent_total"
	MetricNamePongsReceived     = "meshring_pongs_received_total"
	MetricNameLinksDisabled     = "meshring_links_disabled_total"
	MetricNameDuplicatesDropped = "meshring_duplicate_payloads_dropped_total"

	// Labels.
	LabelVersion = "version"
	LabelCommit  = "commit"
	LabelReason  = "reason"

	// Drop reasons.
	DropReasonShortFrame    = "short_frame"
	DropReasonBadMagic      = "bad_magic"
	DropReasonBadVersion    = "bad_version"
	DropReasonUnknownSource = "unknown_source"
	DropReasonUnknownType   = "unknown_type"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBuildInfo,
			Help: "Build information of the ring node",
		},
		[]string{LabelVersion, LabelCommit},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameFramesDropped,
			Help: "Number of inbound frames dropped before dispatch",
		},
		[]string{LabelReason},
	)

	SendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameSendErrors,
			Help: "Number of per-link transmit errors (best-effort sends)",
		},
	)

	PayloadsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNamePayloadsDelivered,
			Help: "Number of DATA payloads written to the local endpoint",
		},
	)

	PingsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNamePingsSent,
			Help: "Number of heartbeat PING frames sent",
		},
	)

	PongsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNamePongsReceived,
			Help: "Number of PONG frames processed",
		},
	)

	LinksDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameLinksDisabled,
			Help: "Number of times a link was disabled after a pong timeout",
		},
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameDuplicatesDropped,
			Help: "Number of payloads rejected by the delivery filter",
		},
	)
)
