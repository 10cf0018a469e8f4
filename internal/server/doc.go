// Package server exposes the running mixer over HTTP.
//
// Two handlers are mounted on a [BasicRouter]:
//
//	GET /metrics → Prometheus exposition of the collectors in internal/metrics
//	GET /status  → JSON snapshot of phases, sources, connectivity and the sleep timer
//
// The server binds to loopback by default; port 0 picks a free port, and [Server.Addr] reports the
// bound address once [Server.Start] returns.
package server
