// Package live provides a websocket endpoint for leaderboard viewers, with
// fan-out of updates to all viewers of the same competition.
package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/hackfest/leaderboard/internal/metrics"
)

// Hub maintains the set of active clients, partitioned by competition ID,
// and broadcasts leaderboard updates to them. All registry mutation happens
// in the Run loop; the mutex only guards the diagnostic read path so that
// client counts can be read without stopping the loop.
type Hub struct {
	// Registered clients, keyed by competition ID.
	clients map[string]map[*Client]bool

	broadcast chan Message

	register chan *Client

	unregister chan *Client

	shutdown chan struct{}

	once sync.Once

	// guards clients for reads from GetClientCount etc only
	mu sync.RWMutex

	stats Stats
}

// New returns a pointer to an initialised Hub; call Run to start it.
func New() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		shutdown:   make(chan struct{}),
		stats: Stats{
			Audience: welford.New(),
			Bytes:    welford.New(),
			Dt:       welford.New(),
		},
	}
}

// Run starts the hub's control loop. Run it in its own goroutine; it returns
// after Shutdown is called, closing every client's send channel on the way out.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.competition]; !ok {
				h.clients[client.competition] = make(map[*Client]bool)
			}
			h.clients[client.competition][client] = true
			count := len(h.clients[client.competition])
			h.mu.Unlock()
			metrics.ClientsConnected.Inc()
			log.WithFields(log.Fields{"competition": client.competition, "client": client.name, "count": count}).Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()

			dt := time.Since(h.stats.Last)
			if dt < 24*time.Hour {
				h.stats.Dt.Add(dt.Seconds())
			}
			h.stats.Last = time.Now()
			h.stats.Bytes.Add(float64(len(message.Data)))
			h.stats.Audience.Add(float64(len(h.clients[message.Competition])))

			for client := range h.clients[message.Competition] {
				select {
				case client.send <- message:
				default:
					// slow consumer; drop it rather than stall the loop
					h.removeClient(client)
					metrics.ClientsDropped.Inc()
					log.WithFields(log.Fields{"competition": client.competition, "client": client.name}).Warn("send buffer full, dropping client")
				}
			}
			h.mu.Unlock()
			metrics.BroadcastsSent.Inc()

		case <-h.shutdown:
			h.mu.Lock()
			for competition, clients := range h.clients {
				for client := range clients {
					close(client.send)
					metrics.ClientsConnected.Dec()
				}
				delete(h.clients, competition)
			}
			h.mu.Unlock()
			log.Debug("hub shut down")
			return
		}
	}
}

// removeClient must be called with h.mu held, from the Run loop only.
func (h *Hub) removeClient(client *Client) {
	clients, ok := h.clients[client.competition]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	metrics.ClientsConnected.Dec()
	log.WithFields(log.Fields{"competition": client.competition, "client": client.name, "remaining": len(clients)}).Debug("client unregistered")

	// don't let registries for finished competitions accumulate
	if len(clients) == 0 {
		delete(h.clients, client.competition)
	}
}

// Broadcast queues data for delivery to every client watching the given
// competition. It does not block; if the hub's inbound queue is full the
// message is dropped (the next recomputation supersedes it anyway).
func (h *Hub) Broadcast(competition string, data []byte) {
	select {
	case h.broadcast <- Message{Competition: competition, Data: data}:
	default:
		log.WithField("competition", competition).Warn("broadcast queue full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub and closes its send channel
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// GetClientCount returns the number of clients watching a competition
func (h *Hub) GetClientCount(competition string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[competition])
}

// GetTotalClientCount returns the number of connected clients across all competitions
func (h *Hub) GetTotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// Shutdown stops the Run loop and closes all client send channels. Safe to
// call more than once. Register/Unregister/Broadcast submitted after Shutdown
// may sit in the buffered channels but are never drained.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.shutdown)
	})
}

// GetStats reports the hub's running broadcast statistics
func (h *Hub) GetStats() StatsReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last := "never"
	if !h.stats.Last.IsZero() {
		last = fmt.Sprintf("%.1fs", time.Since(h.stats.Last).Seconds())
	}

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}

	return StatsReport{
		Competitions: len(h.clients),
		Clients:      total,
		Broadcasts:   int(h.stats.Bytes.Count()),
		MeanAudience: h.stats.Audience.Mean(),
		MeanBytes:    h.stats.Bytes.Mean(),
		MeanDt:       h.stats.Dt.Mean(),
		Last:         last,
	}
}
