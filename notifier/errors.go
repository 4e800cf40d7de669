package notifier

import "errors"

// ErrUnknownEventType is returned by Subscribe for an EventType with no
// registered table mapping.
var ErrUnknownEventType = errors.New("notifier: unknown event type")
