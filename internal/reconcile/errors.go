package reconcile

import "errors"

var (
	// ErrMalformedEvent is permanent: redelivery carries the same payload.
	ErrMalformedEvent = errors.New("reconcile: malformed event")
	// ErrUnknownEventType is permanent and acknowledged.
	ErrUnknownEventType = errors.New("reconcile: unknown event type")
	// ErrUnresolvedAccount is transient: the account may appear once an
	// earlier event has been processed.
	ErrUnresolvedAccount = errors.New("reconcile: unresolved account")
)

// IsPermanent reports whether retrying the event can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownEventType)
}
