// Package notify delivers event payloads to a specific online user's live
// connection. Delivery is best-effort and at-most-once: an offline target is
// a silent no-op, and clients recover missed events by listing the transfers
// addressed to them.
package notify

import (
	"github.com/sirupsen/logrus"

	"privora/internal/presence"
)

// ConnectionSender pushes a tagged payload to one live connection. Sends to
// a connection that has gone away report an error rather than blocking.
type ConnectionSender interface {
	Send(connectionID, event string, payload interface{}) error
}

type Dispatcher struct {
	registry *presence.Registry
	sender   ConnectionSender
}

func NewDispatcher(registry *presence.Registry, sender ConnectionSender) *Dispatcher {
	return &Dispatcher{registry: registry, sender: sender}
}

// Notify sends the payload to the target user's connection if one exists.
// It returns true only when the payload was handed to a live connection;
// offline targets and sends racing a disconnect both report false. There is
// no queue and no retry.
func (d *Dispatcher) Notify(targetUserID, event string, payload interface{}) bool {
	connID, ok := d.registry.Lookup(targetUserID)
	if !ok {
		return false
	}

	if err := d.sender.Send(connID, event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"userId": targetUserID,
			"event":  event,
		}).Debug("Notification target disconnected mid-send")
		return false
	}
	return true
}
