package core

import "errors"

// errNotFound is the cause wrapped into miss-events for named resources
// that have no default (signers, scripts, relay hosts).
var errNotFound = errors.New("core: named resource not found")
