package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist, is soft-deleted, or is not in the
//     state an update expects (e.g. demoting a contact that is already secondary)
//   - ErrConflict: the scoped transaction lost a race (serialization failure,
//     deadlock, lock timeout); the whole read-decide-write cycle may be retried
//   - ErrUnavailable: backing service temporarily unreachable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
