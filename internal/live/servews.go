package live

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// snapshotTimeout bounds the leaderboard computation done on connect so a
// stalled record store cannot hold the upgrade handler.
const snapshotTimeout = 15 * time.Second

// Snapshotter supplies the current leaderboard update payload for a
// competition, so a joining viewer need not wait for the next event.
type Snapshotter interface {
	Snapshot(ctx context.Context, competition string) ([]byte, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// viewers connect from arbitrary origins; authorisation happens upstream
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS handles websocket requests from leaderboard viewers. The
// competition ID comes from the route; the new client is registered with the
// hub and receives the current leaderboard as its first message.
func ServeWS(hub *Hub, snap Snapshotter, w http.ResponseWriter, r *http.Request) {

	competition := mux.Vars(r)["competition_id"]

	if competition == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Error("failed to upgrade to websocket")
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan Message, sendBufferLength),
		competition: competition,
		name:        uuid.New().String(),
		userAgent:   r.UserAgent(),
		remoteAddr:  r.Header.Get("X-Forwarded-For"),
	}

	// Queue the snapshot before registering so it cannot race with the hub
	// closing the send channel, and so it precedes any broadcast. A viewer
	// joining while a broadcast is in flight may miss that one update; the
	// snapshot covers the same state.
	if snap != nil {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		data, err := snap.Snapshot(ctx, competition)
		cancel()
		if err != nil {
			log.WithFields(log.Fields{"competition": competition, "error": err}).Warn("could not compute initial snapshot")
		} else {
			client.send <- Message{Competition: competition, Data: data}
		}
	}

	client.hub.Register(client)

	go client.writePump()
	go client.readPump()

	log.WithFields(log.Fields{"competition": competition, "client": client.name, "remoteAddr": client.remoteAddr, "userAgent": client.userAgent}).Info("viewer connected")
}
