package echowsserver

// Constants used for tracing and metrics purpose
const (
	echowsserver_instrumentation_id           = "EchoWebsocketServer"
	echowsserver_span_start                   = echowsserver_instrumentation_id + ".Start"
	echowsserver_span_attr_start_host         = "host"
	echowsserver_span_stop                    = echowsserver_instrumentation_id + ".Stop"
	echowsserver_span_accept                  = echowsserver_instrumentation_id + ".Accept"
	echowsserver_span_session                 = echowsserver_instrumentation_id + ".Session"
	echowsserver_span_attr_session_id         = "session_id"
	echowsserver_metric_active_sessions_gauge = "echowsserver.active_sessions"
	echowsserver_metric_sessions_counter      = "echowsserver.sessions"
)
