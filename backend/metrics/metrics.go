// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_users",
		Help: "Distinct users with at least one live connection.",
	})

	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_open_connections",
		Help: "Live websocket connections.",
	})

	FanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_events_total",
		Help: "Events pushed through the fan-out engine, by event name.",
	}, []string{"event"})

	FanoutSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_send_failures_total",
		Help: "Per-connection deliveries dropped because the send buffer was full.",
	})

	MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_posted_total",
		Help: "Messages accepted by the ledger.",
	})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_notifications_queued_total",
		Help: "Offline notification jobs handed to the dispatch queue.",
	})
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
