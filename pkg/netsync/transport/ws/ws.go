// Package ws implements transport.Transport over github.com/gorilla/websocket,
// the domain dependency pulled in from the example pack's larger chain
// fork for exactly this kind of duplex peer channel. One Transport wraps
// one already-established *websocket.Conn (either dialed out or accepted
// by an http.Server); fanning a single process out to many peers means
// constructing one Transport per connection and broadcasting by writing
// to each.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ridgeline-sim/netsync/pkg/netsync/definition"
	"github.com/ridgeline-sim/netsync/pkg/netsync/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transport adapts a single websocket connection into transport.Transport.
type Transport struct {
	log definition.Logger

	conn     *websocket.Conn
	writeMu  sync.Mutex
	producer chan transport.Envelope
	closed   chan struct{}
}

// Dial opens a client-side connection to url and wraps it.
func Dial(url string, log definition.Logger) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newTransport(conn, log), nil
}

// Accept upgrades an inbound HTTP request to a websocket connection and
// wraps it — the server side of the same duplex channel Dial creates.
func Accept(w http.ResponseWriter, r *http.Request, log definition.Logger) (*Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newTransport(conn, log), nil
}

func newTransport(conn *websocket.Conn, log definition.Logger) *Transport {
	if log == nil {
		log = definition.NewDefaultLogger()
	}
	t := &Transport{
		log:      log,
		conn:     conn,
		producer: make(chan transport.Envelope, 256),
		closed:   make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send implements transport.Transport by writing env as a single JSON
// websocket text message.
func (t *Transport) Send(env transport.Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(env)
}

// Inbound implements transport.Transport.
func (t *Transport) Inbound() <-chan transport.Envelope {
	return t.producer
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	defer close(t.producer)
	for {
		var env transport.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			select {
			case <-t.closed:
			default:
				t.log.Errorf("netsync/ws: read failed: %v", err)
			}
			return
		}
		select {
		case t.producer <- env:
		case <-t.closed:
			return
		}
	}
}

