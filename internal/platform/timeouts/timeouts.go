// Package timeouts defines shared timeout constants used across the arena
// service. Centralizing these values prevents drift between component
// boundaries and makes the durations discoverable.
package timeouts

import "time"

// AgentCall caps the wall-clock duration of a single call into agent code.
const AgentCall = 2 * time.Second

// MatchPersist caps persistence collaborator calls made from a worker.
const MatchPersist = 5 * time.Second

// Shutdown limits how long the runtime waits for in-flight matches during
// graceful shutdown.
const Shutdown = 10 * time.Second
