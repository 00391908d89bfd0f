// Package agent contains the core orchestrator responsible for translating
// natural-language messages into replies and device tool executions. It drives
// the per-turn state machine, enforces policy verdicts before any tool runs,
// and feeds observations back into the model until the turn completes.
package agent
