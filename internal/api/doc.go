// Package api is the HTTP surface of the agent service.
//
// Routes:
//
//	GET  /health                    liveness
//	GET  /health/ready              worker answers a ping
//	GET  /metrics                   Prometheus (when enabled)
//	POST /api/ask                   query the agent, SSE stream of text then done|error
//	POST /api/reset                 evict one or all sessions
//	POST /api/rooms/{id}/messages   post a room message
//	GET  /api/stats/usage           token usage aggregates
//	GET  /api/reflection/stats      reflection counters
//	GET  /api/reflection/history    recent reflection entries
//	POST /api/reflection/trigger    run a reflection now
//	POST /api/reflection/enabled    toggle scheduled reflections
//	GET  /api/reflection/events     SSE stream of scheduler state
package api
