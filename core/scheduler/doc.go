package scheduler

// Package scheduler implements the rotation engine: it computes dispatch
// windows (gaps) per route for a vehicle/driver pair, performs automatic
// best-slot selection behind the eligibility gate, and keeps the waiting
// queue observers informed of every change.
