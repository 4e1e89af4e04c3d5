// Package sse implements a Server-Sent Events broker for live dossier updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Dossier event kinds.
const (
	KindPersonUpdated  = "person.updated"
	KindEntryCreated   = "entry.created"
	KindEntryUpdated   = "entry.updated"
	KindLinksRefreshed = "links.refreshed"
	kindGuildUpdated   = "guild.updated"
)

// DossierEvent describes a change to one person's dossier.
type DossierEvent struct {
	Kind     string `json:"-"`
	GuildID  string `json:"guild_id"`
	PersonID int64  `json:"person_id"`
	EntryID  int64  `json:"entry_id,omitempty"`
	Reposted int    `json:"reposted,omitempty"`
}

// defaultKeepAlive keeps idle streams open through proxies that drop silent
// connections.
const defaultKeepAlive = 25 * time.Second

var keepAliveFrame = []byte(": keepalive\n\n")

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + per-guild throttle timestamps). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	guildMin  time.Duration
	keepAlive time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	dossierCh     chan DossierEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. guild.updated events are emitted at most
// once per guildThrottle for each guild.
func NewBroker(guildThrottle time.Duration) *Broker {
	if guildThrottle <= 0 {
		guildThrottle = 2 * time.Second
	}

	b := &Broker{
		guildMin:      guildThrottle,
		keepAlive:     defaultKeepAlive,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		dossierCh:     make(chan DossierEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	throttle := newGuildThrottle(b.guildMin)

	broadcast := func(kind string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", kind, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.dossierCh:
			broadcast(ev.Kind, ev)

			if throttle.allow(ev.GuildID, time.Now()) {
				broadcast(kindGuildUpdated, map[string]string{"guild_id": ev.GuildID})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// guildThrottle remembers when each guild last got a guild.updated event.
// Entries older than the interval carry no information and are dropped.
type guildThrottle struct {
	interval time.Duration
	last     map[string]time.Time
}

func newGuildThrottle(interval time.Duration) *guildThrottle {
	return &guildThrottle{interval: interval, last: make(map[string]time.Time)}
}

func (g *guildThrottle) allow(guildID string, now time.Time) bool {
	for id, at := range g.last {
		if now.Sub(at) >= g.interval {
			delete(g.last, id)
		}
	}
	if _, recent := g.last[guildID]; recent {
		return false
	}
	g.last[guildID] = now
	return true
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishDossierEvent publishes a dossier change and a throttled
// guild.updated event for the person's guild.
func (b *Broker) PublishDossierEvent(ev DossierEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.dossierCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write(keepAliveFrame)
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
