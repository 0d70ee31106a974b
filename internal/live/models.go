package live

import (
	"time"

	"github.com/eclesh/welford"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Viewers only listen, so
	// anything beyond a control frame is unexpected.
	maxMessageSize = 1024

	// Length of each client's outbound buffer. A client that lets this
	// fill up is dropped rather than letting it stall the broadcaster.
	sendBufferLength = 256
)

// Client is a middleperson between one websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan Message

	// competition scopes which broadcasts this client receives
	competition string

	name string

	userAgent string

	remoteAddr string
}

// Message represents a payload ready for fan-out to one competition's clients
type Message struct {
	Competition string
	Data        []byte
}

// Stats represents running statistics about the hub's broadcasts
type Stats struct {
	Audience *welford.Stats
	Bytes    *welford.Stats
	Dt       *welford.Stats
	Last     time.Time
}

// StatsReport represents hub statistics in a form suitable for reporting
// on the status endpoint
type StatsReport struct {
	Competitions int     `json:"competitions"`
	Clients      int     `json:"clients"`
	Broadcasts   int     `json:"broadcasts"`
	MeanAudience float64 `json:"mean_audience"`
	MeanBytes    float64 `json:"mean_bytes"`
	MeanDt       float64 `json:"mean_dt_seconds"`
	Last         string  `json:"last"` // how many seconds ago
}
