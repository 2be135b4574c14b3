package controller

import "errors"

// ErrNotConnected reports a send attempted while no session is established.
// Callers decide whether to retry; the manager keeps reconnecting either way.
var ErrNotConnected = errors.New("NOT_CONNECTED")

// ErrStopped reports an operation on a manager that has already been
// stopped. A stopped manager cannot be restarted.
var ErrStopped = errors.New("STOPPED")
