// Package hub is the real-time connection hub. It binds websocket connections to user
// identities, groups them by user and relays chat and signaling events between users.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/auth"
)

// Store is what the hub needs from persistence
type Store interface {
	PartnerResolver
	MessageStore
	LocationRecorder
}

// Lifecycle is invoked by the transport when a bound connection opens and when it closes
type Lifecycle interface {
	OnOpen(c *Client, identity auth.Identity)
	OnClose(c *Client)
}

// Options tune connection handling
type Options struct {
	SendQueueSize       int
	Overflow            OverflowPolicy
	WriteTimeout        time.Duration
	PongTimeout         time.Duration
	MaxMessageSize      int64
	RequestTimeout      time.Duration
	AllowedOrigins      []string
	ReportInvalidEvents bool
}

// DefaultOptions returns the options used for anything left unset
func DefaultOptions() Options {
	return Options{
		SendQueueSize:  256,
		Overflow:       OverflowDisconnect,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		RequestTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaults.SendQueueSize
	}
	if o.Overflow != OverflowDropOldest {
		o.Overflow = OverflowDisconnect
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaults.WriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaults.PongTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaults.MaxMessageSize
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaults.RequestTimeout
	}
	return o
}

// Hub owns the connection registry for the life of the process and wires the relays to it
type Hub struct {
	options Options
	binder  *auth.Binder

	registry  *Registry
	router    *Router
	signaling *SignalingRelay
	chat      *ChatRelay

	upgrader websocket.Upgrader
	origins  originPolicy

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	log *logrus.Entry
}

var _ Lifecycle = (*Hub)(nil)

// NewHub creates a hub authenticating connections with binder and persisting through store
func NewHub(options Options, binder *auth.Binder, store Store) *Hub {
	options = options.withDefaults()
	registry := NewRegistry()
	router := NewRouter(registry)
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		options:   options,
		binder:    binder,
		registry:  registry,
		router:    router,
		signaling: NewSignalingRelay(router, store, store),
		chat:      NewChatRelay(router, store),
		origins:   newOriginPolicy(options.AllowedOrigins),
		ctx:       ctx,
		cancel:    cancel,
		log:       logrus.WithField("comp", "hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 8 * time.Second,
		CheckOrigin:      h.origins.allowed,
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Router() *Router { return h.router }
func (h *Hub) Signaling() *SignalingRelay { return h.signaling }
func (h *Hub) Chat() *ChatRelay { return h.chat }

// OnOpen joins the connection to its identity's group
func (h *Hub) OnOpen(c *Client, identity auth.Identity) {
	h.registry.Join(c)
	c.log.WithField("connections", h.registry.Count()).Info("client connected")
}

// OnClose removes the connection from the registry, it runs once per connection
func (h *Hub) OnClose(c *Client) {
	c.closeOnce.Do(func() {
		h.registry.Leave(c)
		c.Close()
		c.log.WithField("connections", h.registry.Count()).
			WithField("duration", time.Since(c.OpenedAt()).Round(time.Second).String()).
			Info("client disconnected")
	})
}

// requestContext bounds collaborator calls made while handling an event
func (h *Hub) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.options.RequestTimeout)
}

// Close disconnects every client and waits up to timeout for their pumps to finish. The
// registry is empty afterwards and new connections are refused.
func (h *Hub) Close(timeout time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()

	conns := h.registry.All()
	for _, conn := range conns {
		if c, ok := conn.(*Client); ok {
			c.Close()
		}
	}
	h.log.WithField("connections", len(conns)).Info("closing connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub closed")
		return nil
	case <-time.After(timeout):
		return errors.Errorf("timed out waiting for %d connections to close", h.registry.Count())
	}
}
