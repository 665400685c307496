package health

import "errors"

// ErrCircuitOpen is returned when an account's circuit rejects a call.
var ErrCircuitOpen = errors.New("health: circuit breaker is open")
