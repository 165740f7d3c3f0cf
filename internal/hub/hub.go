// Package hub owns the client registry and the redirect table. It is the
// single serialization domain for membership: registration, lookup, routing
// and removal are atomic with respect to each other, and delivery is safe
// from any goroutine (connection sessions and the stamp worker alike).
package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/stamphub/internal/logger"
	"github.com/codefionn/stamphub/internal/protocol"
	"github.com/codefionn/stamphub/internal/queue"
)

// Routing errors. Both are fatal to the originating session.
var (
	// ErrSelfTarget is returned when a destination list names the sender.
	ErrSelfTarget = errors.New("cannot send a message to yourself")
	// ErrUnknownDest is returned when a redirect-resolved destination is
	// not currently registered.
	ErrUnknownDest = errors.New("unknown destination id")
)

// Client is one registered hub member. Its outbox is unbounded, so
// delivery never blocks on a slow consumer; frames come out in enqueue
// order.
type Client struct {
	ID     protocol.ClientID
	outbox *queue.Queue[protocol.Frame]
}

// Next blocks until the next outbound frame for this client is available.
// The write pump is the only intended caller.
func (c *Client) Next() protocol.Frame {
	return c.outbox.Take()
}

// Pending returns the number of frames waiting in the outbox.
func (c *Client) Pending() int {
	return c.outbox.Len()
}

// Hub maintains the set of registered clients and their departure
// redirects. All state is guarded by one mutex; nothing outside this
// package touches the underlying maps.
type Hub struct {
	mu        sync.Mutex
	nextID    protocol.ClientID
	clients   map[protocol.ClientID]*Client
	order     []protocol.ClientID
	redirects map[protocol.ClientID]protocol.ClientID
}

// New creates an empty hub. The first registered client gets id 0.
func New() *Hub {
	return &Hub{
		clients:   make(map[protocol.ClientID]*Client),
		redirects: make(map[protocol.ClientID]protocol.ClientID),
	}
}

// Register allocates the next client id, inserts the client into the
// registry and performs the join handshake: the new client receives
// WELCOME with the full membership (including itself, in registration
// order) and every other client receives JOIN. Atomic with respect to
// concurrent registrations and departures.
func (h *Hub) Register() *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &Client{
		ID:     h.nextID,
		outbox: queue.New[protocol.Frame](),
	}
	h.nextID++

	h.clients[c.ID] = c
	h.order = append(h.order, c.ID)

	c.outbox.Put(protocol.Welcome(c.ID, h.order))
	for _, id := range h.order {
		if id == c.ID {
			continue
		}
		h.clients[id].outbox.Put(protocol.Join(c.ID))
	}

	logger.Info("client %d joins", c.ID)
	return c
}

// Unregister removes a client from the registry and releases its write
// pump with the stop sentinel. It is a no-op if the id is already absent;
// the departure path and abnormal-disconnect cleanup may race to remove
// the same id.
func (h *Hub) Unregister(id protocol.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	h.removeLocked(id)
	c.outbox.Put(protocol.Stop)
	logger.Debug("client %d unregistered", id)
}

// Deliver enqueues a frame onto client id's outbox if it is registered and
// reports whether delivery was attempted. Never blocks.
func (h *Hub) Deliver(id protocol.ClientID, f protocol.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return false
	}
	c.outbox.Put(f)
	return true
}

// Leave handles a graceful departure. Under a single lock hold: the
// successor redirect (if any) is recorded, the departing client is removed
// from the registry, its write pump is released with the stop sentinel,
// and every remaining client is notified. The redirect becomes visible at
// the same serialization point the id vanishes from the registry, so a
// concurrent route resolving the departed id sees one or the other, never
// neither.
func (h *Hub) Leave(id protocol.ClientID, successor *protocol.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if successor != nil {
		h.redirects[id] = *successor
		logger.Info("client %d leaves, redirecting to %d", id, *successor)
	} else {
		logger.Info("client %d leaves", id)
	}

	if c, ok := h.clients[id]; ok {
		h.removeLocked(id)
		c.outbox.Put(protocol.Stop)
	}

	for _, rest := range h.order {
		h.clients[rest].outbox.Put(protocol.Leave(id))
	}
}

// Resolve follows the redirect chain from id to its final successor.
// Redirect entries are only ever written by the departing client itself,
// so chains normally terminate; a cycle constructed by adversarial clients
// would spin forever.
func (h *Hub) Resolve(id protocol.ClientID) protocol.ClientID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolveLocked(id)
}

// RouteBroadcast delivers MSG|payload to every registered client except
// the sender, in registration order.
func (h *Hub) RouteBroadcast(sender protocol.ClientID, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := protocol.Message(payload)
	for _, id := range h.order {
		if id == sender {
			continue
		}
		h.clients[id].outbox.Put(f)
	}
}

// RouteTargeted delivers MSG|payload to each destination after redirect
// resolution. The sender's own id must not appear in the raw list, and
// every resolved destination must be registered; either violation fails
// the whole route with nothing delivered. Duplicate destinations cause
// duplicate delivery.
func (h *Hub) RouteTargeted(sender protocol.ClientID, dests []protocol.ClientID, payload string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	resolved, err := h.resolveRegisteredLocked(sender, dests, true)
	if err != nil {
		return err
	}

	f := protocol.Message(payload)
	for _, id := range resolved {
		h.clients[id].outbox.Put(f)
	}
	return nil
}

// ResolveRegistered redirect-resolves each destination and requires all of
// them to be currently registered. Used for STAMP destination validation,
// which has no self-target restriction.
func (h *Hub) ResolveRegistered(dests []protocol.ClientID) ([]protocol.ClientID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolveRegisteredLocked(0, dests, false)
}

// Members returns the currently registered ids in registration order.
func (h *Hub) Members() []protocol.ClientID {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := make([]protocol.ClientID, len(h.order))
	copy(members, h.order)
	return members
}

func (h *Hub) resolveRegisteredLocked(sender protocol.ClientID, dests []protocol.ClientID, rejectSelf bool) ([]protocol.ClientID, error) {
	if rejectSelf {
		for _, d := range dests {
			if d == sender {
				return nil, fmt.Errorf("%w: %d", ErrSelfTarget, d)
			}
		}
	}

	resolved := make([]protocol.ClientID, 0, len(dests))
	for _, d := range dests {
		resolved = append(resolved, h.resolveLocked(d))
	}
	for _, d := range resolved {
		if _, ok := h.clients[d]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownDest, d)
		}
	}
	return resolved, nil
}

func (h *Hub) resolveLocked(id protocol.ClientID) protocol.ClientID {
	for {
		next, ok := h.redirects[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (h *Hub) removeLocked(id protocol.ClientID) {
	delete(h.clients, id)
	for i, other := range h.order {
		if other == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}
