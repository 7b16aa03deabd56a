package metrics

import "expvar"

var (
	StreamReconnects = expvar.NewInt("stream_reconnects")
	StreamTicks      = expvar.NewInt("stream_ticks")
	OrdersPlaced     = expvar.NewInt("orders_placed")
	OrdersFailed     = expvar.NewInt("orders_failed")
	AlertsTriggered  = expvar.NewInt("alerts_triggered")
)
