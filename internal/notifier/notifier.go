// Package notifier provides the direct-message notification channel
// used by the alerting engine.
package notifier

import (
	"context"
)

// Messenger delivers a direct message to a tenant owner. The alerting
// engine records the boolean outcome on the triggered alert; a send
// failure is never propagated to the event producer.
type Messenger interface {
	// Send delivers a message to the owner. A nil error means the
	// message was handed off successfully.
	Send(ctx context.Context, ownerID, title, body string) error
	// Close releases any resources.
	Close() error
}
