package feed

import "errors"

var (
	// ErrNotFound means the feed has no collection for the actor. Callers
	// record the miss without touching the actor's stored state.
	ErrNotFound = errors.New("collection not found in feed")

	// ErrTransient marks a feed failure worth retrying on a later run.
	// Callers must not treat it as evidence that techniques disappeared.
	ErrTransient = errors.New("transient feed error")
)
