package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and the HTTP layer maps them to statuses.
//
// - ErrNotFound: entity does not exist in store
var (
	ErrNotFound = errors.New("not found")
)
