package hub

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Router delivers named events to every connection registered for a user
type Router struct {
	registry *Registry
	log      *logrus.Entry
}

// NewRouter creates a router over the passed in registry
func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		log:      logrus.WithField("comp", "router"),
	}
}

// Deliver pushes the event to each of userID's connections independently. A connection that
// doesn't accept the frame is skipped, and a user with no connections is a normal outcome.
// Returns the number of connections the frame was queued on.
func (r *Router) Deliver(userID string, event string, payload interface{}) int {
	conns := r.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		r.log.WithField("user_id", userID).WithField("event", event).Debug("no connections for user")
		return 0
	}

	frame, err := json.Marshal(&OutboundMessage{Event: event, Data: payload})
	if err != nil {
		r.log.WithError(err).WithField("event", event).Error("error encoding event")
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) {
			delivered++
		} else {
			r.log.WithField("conn_id", conn.ID()).WithField("event", event).Debug("connection did not accept event")
		}
	}
	return delivered
}
