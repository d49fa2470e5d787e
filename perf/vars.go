package perf

import (
	"expvar"

	"github.com/encodeous/metric"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	SentPacketPerSecond = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pimsm_messages_sent_total",
		Help: "Total number of PIM messages and data packets sent, by type.",
	}, []string{"type"})
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pimsm_messages_received_total",
		Help: "Total number of PIM messages and data packets received, by type.",
	}, []string{"type"})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pimsm_handler_errors_total",
		Help: "Total number of events whose processing was aborted by an error.",
	})
	MulticastRoutes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pimsm_mroutes",
		Help: "Number of multicast routes in the route table.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		MessagesReceived,
		HandlerErrors,
		MulticastRoutes,
	)

	expvar.Publish("pimsm:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("pimsm:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("pimsm:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("pimsm:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("pimsm:DispatchLatency (µs)", DispatchLatency)
}
