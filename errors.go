package gonutstash

import "errors"

// ErrStorageUnavailable indicates that the persistent tier could not
// serve a read. Not-found is never an error; Get reports a miss with a
// false hit flag instead.
var ErrStorageUnavailable = errors.New("nutstash: persistent tier unavailable")

// ErrTransactionFailed indicates that a persistent tier write did not
// apply. Any memory tier state from the failed operation has already
// been rolled back when this error is returned.
var ErrTransactionFailed = errors.New("nutstash: persistent tier write failed")
