package router

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"echorelay/internal/instrument"
	"echorelay/pkg/interfaces"
	"echorelay/pkg/protocol"
	"echorelay/pkg/types"
)

// Router implements interfaces.MessageRouter. It holds no per-connection
// state of its own; the bound identity lives on the Peer and the
// identity table lives in the Registry.
type Router struct {
	registry interfaces.Registry
	journal  interfaces.Journal
	metrics  *instrument.Metrics
}

// Option configures optional Router collaborators.
type Option func(*Router)

// WithJournal records identity bindings to j.
func WithJournal(j interfaces.Journal) Option {
	return func(r *Router) { r.journal = j }
}

// WithMetrics counts replies and deliveries on m.
func WithMetrics(m *instrument.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router over registry.
func NewRouter(registry interfaces.Registry, opts ...Option) *Router {
	r := &Router{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleFrame decodes raw once and dispatches on the frame variant.
// Frames that are not JSON are dropped without a reply.
func (r *Router) HandleFrame(peer interfaces.Peer, raw []byte) {
	frame, err := protocol.Decode(raw)
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame):
		r.metrics.FrameMalformed()
		logrus.WithFields(logrus.Fields{
			"function":      "Router.HandleFrame",
			"connection_id": peer.ID(),
			"size":          len(raw),
		}).Debug("Dropping unparseable frame")
		return
	case err != nil:
		r.reply(peer, protocol.EncodeError(protocol.ReasonUnknownType), protocol.ReasonUnknownType)
		return
	}

	switch f := frame.(type) {
	case protocol.Hello:
		r.handleHello(peer, f)
	case protocol.Relay:
		r.handleRelay(peer, f)
	}
}

// handleHello binds and registers the claimed identity. Last write wins:
// a connection already registered under the same name is displaced
// without notice.
func (r *Router) handleHello(peer interfaces.Peer, hello protocol.Hello) {
	previous, wasBound := peer.Identity()

	peer.Bind(hello.Identity)
	r.registry.Register(hello.Identity, peer)
	if wasBound && previous != hello.Identity {
		r.registry.Unregister(previous, peer)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Router.handleHello",
		"connection_id": peer.ID(),
		"identity":      hello.Identity,
		"rebind":        wasBound,
	}).Debug("Identity bound")

	if r.journal != nil {
		r.journal.Record(types.PresenceEvent{
			ID:           uuid.NewString(),
			ConnectionID: peer.ID(),
			Kind:         types.EventBound,
			Identity:     hello.Identity,
			RemoteKey:    peer.RemoteKey(),
			At:           time.Now().UTC(),
		})
	}

	r.reply(peer, protocol.EncodeAck(hello.Identity), "ack")
}

// handleRelay forwards the opaque payload to the registered destination.
// Delivery is fire-and-forget; enqueue failures are not reported.
func (r *Router) handleRelay(peer interfaces.Peer, relay protocol.Relay) {
	from, bound := peer.Identity()
	if !bound || from == "" {
		r.reply(peer, protocol.EncodeError(protocol.ReasonNotAuthenticated), protocol.ReasonNotAuthenticated)
		return
	}

	dest, ok := r.registry.Lookup(relay.To)
	if !ok {
		r.reply(peer, protocol.EncodeError(protocol.ReasonRecipientOffline), protocol.ReasonRecipientOffline)
		return
	}

	if err := dest.Send(protocol.EncodeDelivery(from, relay.Data)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Router.handleRelay",
			"from":        from,
			"to":          relay.To,
			"destination": dest.ID(),
			"error":       err.Error(),
		}).Debug("Delivery not enqueued cleanly")
		if !errors.Is(err, interfaces.ErrOutboundOverflow) {
			return
		}
	}
	r.metrics.Delivery()
}

// Disconnect releases the peer's registry entry if it still owns it.
func (r *Router) Disconnect(peer interfaces.Peer) {
	identity, bound := peer.Identity()
	if !bound {
		return
	}
	removed := r.registry.Unregister(identity, peer)

	logrus.WithFields(logrus.Fields{
		"function":      "Router.Disconnect",
		"connection_id": peer.ID(),
		"identity":      identity,
		"removed":       removed,
	}).Debug("Connection released")
}

func (r *Router) reply(peer interfaces.Peer, frame []byte, kind string) {
	if err := peer.Send(frame); err != nil && !errors.Is(err, interfaces.ErrOutboundOverflow) {
		logrus.WithFields(logrus.Fields{
			"function":      "Router.reply",
			"connection_id": peer.ID(),
			"kind":          kind,
			"error":         err.Error(),
		}).Debug("Reply not sent")
		return
	}
	r.metrics.Reply(kind)
}
