package state

var (
	DBG_log_route_events = false
	DBG_log_route_table  = false
	DBG_log_packets      = false
	DBG_trace            = false
	DBG_debug            = false
)

var (
	ConfigPath = "/etc/pimsm/config.yaml"
)
