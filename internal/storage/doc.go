package storage

// Package storage persists the relay's aggregate statistics so counters
// survive restarts.
//
// Deliberately NOT a delivery log: the store holds one snapshot of
// counters, never per-message records.
