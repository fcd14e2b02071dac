package audit

import (
	"errors"
	"fmt"
)

// Error kinds for the audit pipeline. Operations attach one of these to the
// underlying cause so the owning loop can pick a recovery path with errors.Is
// instead of inspecting messages.
//
//   - ErrCapture: reading a request/response body failed; the field is omitted
//   - ErrDelivery: broker unreachable or a publish was rejected
//   - ErrConsume: reading from the broker failed (distinct from decoding)
//   - ErrDecode: a broker message could not be decoded; skip it
//   - ErrStore: insert into the persistent store failed
//   - ErrRejected: the store refused this entry's content; retrying the
//     same entry cannot succeed
//   - ErrQuery: reading from the persistent store failed
var (
	ErrCapture  = errors.New("audit capture failed")
	ErrDelivery = errors.New("audit delivery failed")
	ErrConsume  = errors.New("audit consume failed")
	ErrDecode   = errors.New("audit decode failed")
	ErrStore    = errors.New("audit store failed")
	ErrRejected = errors.New("audit entry rejected by store")
	ErrQuery    = errors.New("audit query failed")
)

// Wrap attaches kind to err. A nil err stays nil.
func Wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
