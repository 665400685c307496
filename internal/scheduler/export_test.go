package scheduler

// Jitter exposes jitter for tests.
var Jitter = jitter
