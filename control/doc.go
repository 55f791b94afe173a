// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration snapshots with reload listeners, debug
// probes, and the admin HTTP surface that serves them.
//
// The admin handler exposes:
//   - GET /healthz        liveness
//   - GET /debug/state    metrics and probe output as JSON
//   - GET /debug/config   effective configuration snapshot
package control
