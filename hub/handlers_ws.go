package hub

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServeWS binds the request to an identity, upgrades it and starts the connection's pumps.
// Requests without a valid credential are refused before upgrading.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.binder.BindConnection(r)
	if err != nil {
		h.log.WithField("remote_addr", r.RemoteAddr).WithError(err).Info("connection refused")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("failed to upgrade connection to websocket")
		return
	}

	c := newClient(h, conn, identity)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.wg.Add(2)
	h.OnOpen(c, identity)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// handleFrame decodes and dispatches one inbound frame. Malformed frames and events missing
// required fields are dropped, optionally reporting the problem back to the sender.
func (h *Hub) handleFrame(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("recovered while handling frame")
		}
	}()

	msg := &WSMessage{}
	if err := json.Unmarshal(raw, msg); err != nil {
		c.log.WithError(err).Debug("dropping malformed frame")
		return
	}

	if msg.Event == EventHandshake {
		c.ack(msg.CID, h.handshakeData(c), nil)
		return
	}

	event, err := DecodeEvent(msg.Event, msg.Data)
	if err != nil {
		c.log.WithError(err).Debug("dropping invalid event")
		if h.options.ReportInvalidEvents {
			c.fail(msg.CID, msg.Event, err)
		}
		return
	}

	data, err := h.dispatch(c, event)
	if err != nil {
		c.log.WithError(err).WithField("event", msg.Event).Error("failed to handle event")
		c.fail(msg.CID, msg.Event, err)
		return
	}
	c.ack(msg.CID, data, nil)
}

func (h *Hub) dispatch(c *Client, event Event) (interface{}, error) {
	ctx, cancel := h.requestContext()
	defer cancel()

	switch e := event.(type) {
	case SendMessage:
		stored, err := h.chat.Send(ctx, c.Identity(), e)
		if err != nil {
			return nil, err
		}
		return stored, nil
	default:
		return nil, h.signaling.Relay(ctx, c.Identity(), event)
	}
}

func (h *Hub) handshakeData(c *Client) map[string]interface{} {
	return map[string]interface{}{
		"id":              c.ID(),
		"userId":          c.UserID(),
		"isAuthenticated": true,
		"pingTimeout":     h.options.PongTimeout.Milliseconds(),
	}
}

// originPolicy checks the Origin header of upgrade requests against the configured origins
type originPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	policy := originPolicy{origins: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			policy.allowAll = true
			continue
		}
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			logrus.WithField("comp", "hub").WithField("origin", origin).WithError(err).Warn("ignoring invalid origin")
			continue
		}
		policy.origins[normalized] = struct{}{}
	}
	return policy
}

// allowed lets through clients that send no Origin, i.e. native apps, and browsers on an allowed origin
func (p originPolicy) allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allowAll {
		return true
	}
	normalized, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	if _, found := p.origins[normalized]; found {
		return true
	}
	logrus.WithField("comp", "hub").WithField("origin", origin).Info("blocked connection from disallowed origin")
	return false
}

func normalizeOrigin(origin string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.Errorf("origin %q must have a scheme and host", origin)
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), nil
}
