// Package pipeline implements the triage orchestration core: the sequential
// stage machine (classify, route, extract, retrieve context, reason,
// validate) with its circuit-breaker safety gate and per-node audit emission.
package pipeline
