// Package orchestrator sequences the workflow phases of a feature.
//
// # Overview
//
// A run walks an ordered phase list, by default:
//
//	specify → plan → tasks → implement [→ verify]
//
// Phases are strictly sequential. Before each phase the orchestrator resolves
// the context produced by its predecessors (in-memory value from this run,
// else a rebuild from Markdown when requested, else the stored envelope) and
// hands it to the phase handler. A missing context is passed through as nil.
//
// # Telemetry
//
// Every attempted phase appends an entry to .agent-os/product/status.json,
// including the failing one, before the error is returned unchanged. When the
// run ends, aggregate coverage metrics go to the analytics recorder. Dry runs
// produce placeholder results and record nothing.
//
// # Gates
//
// Gates registered with RegisterGate run after a phase succeeds. A gate
// violation with error severity fails the run with a *GateError. The core
// runs without gates; ValidationGate adapts the artifact validators.
//
// # Progress
//
// OnProgress receives pending, running, completed, failed and skipped
// transitions for each phase, for terminal UIs.
package orchestrator
