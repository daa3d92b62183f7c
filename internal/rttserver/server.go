// Package rttserver bridges one RTT channel pair to WebSocket clients.
// Bytes the firmware writes to the up channel fan out to every connected
// client as binary messages; binary messages from clients feed the
// matching down channel. The bridge polls the target, so it needs a
// session that stays connected for its whole lifetime.
package rttserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nrfprobe/nrfprobe/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// readChunk bounds one up-channel drain.
	readChunk = 1024

	defaultPollInterval = 10 * time.Millisecond

	// sendBacklog is the per-client buffer; a client that falls this far
	// behind the firmware is dropped rather than stalling the bridge.
	sendBacklog = 64
)

// ChannelIO is the slice of a debug session the bridge drives: polling
// reads from one up channel and writes to the down channel of the same
// index.
type ChannelIO interface {
	RTTRead(channel int, buf []byte) (int, error)
	RTTWrite(channel int, data []byte) (int, error)
}

// Option adjusts the bridge.
type Option func(*server)

// WithPollInterval sets how often the target is polled for up-channel
// data.
func WithPollInterval(d time.Duration) Option {
	return func(s *server) { s.poll = d }
}

// WithLogger routes bridge logging to the given logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *server) { s.log = log }
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type server struct {
	sess    ChannelIO
	channel int
	poll    time.Duration
	log     *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// Serve accepts WebSocket clients on lis and pumps the RTT channel until
// ctx is cancelled or the target stops answering. The listener is closed
// when Serve returns. A target read failure is returned; cancellation is
// not an error.
func Serve(ctx context.Context, lis net.Listener, sess ChannelIO, channel int, opts ...Option) error {
	s := &server{
		sess:    sess,
		channel: channel,
		poll:    defaultPollInterval,
		log:     logging.GetLogger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log.Info("RTT bridge listening",
		zap.String("addr", lis.Addr().String()),
		zap.Int("channel", channel),
	)

	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	pumpErr := make(chan error, 1)
	pumpDead := make(chan struct{})
	go func() {
		pumpErr <- s.pump(pumpCtx)
		close(pumpDead)
	}()

	// A dead target stops the server, not only a cancelled context.
	httpSrv := &http.Server{Handler: s}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-pumpDead:
		case <-stop:
		}
		httpSrv.Close()
	}()

	serveErr := httpSrv.Serve(lis)
	close(stop)
	cancelPump()
	err := <-pumpErr

	close(s.done)
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
		c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if err != nil {
		return err
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		return serveErr
	}
	return nil
}

// pump drains the up channel on a timer and fans the bytes out. A read
// failure stops the bridge: the session is gone, not merely quiet.
func (s *server) pump(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	buf := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			n, err := s.sess.RTTRead(s.channel, buf)
			if err != nil {
				s.log.Error("RTT up-channel read failed", zap.Error(err))
				return err
			}
			if n == 0 {
				break
			}
			msg := make([]byte, n)
			copy(msg, buf[:n])
			s.broadcast(msg)
			if n < len(buf) {
				break
			}
		}
	}
}

func (s *server) broadcast(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			delete(s.clients, c)
			close(c.send)
			s.log.Warn("dropping client that stopped reading",
				zap.String("remote_addr", c.conn.RemoteAddr().String()),
			)
		}
	}
}

// ServeHTTP upgrades one request and starts the client's read and write
// pumps.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	remote := conn.RemoteAddr().String()
	logging.LogConnection(remote, "websocket_upgraded")

	c := &client{conn: conn, send: make(chan []byte, sendBacklog)}
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		conn.Close()
		return
	default:
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	go s.writePump(c, remote)
	go s.readPump(c, remote)
}

// readPump feeds client binary messages into the down channel until the
// connection ends.
func (s *server) readPump(c *client, remote string) {
	defer s.wg.Done()
	defer s.drop(c, remote)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("WebSocket read ended",
					zap.String("remote_addr", remote),
					zap.Error(err),
				)
			}
			return
		}
		if typ != websocket.BinaryMessage {
			s.log.Debug("ignoring non-binary message",
				zap.String("remote_addr", remote),
				zap.Int("type", typ),
			)
			continue
		}
		if err := s.push(data); err != nil {
			s.log.Error("RTT down-channel write failed",
				zap.String("remote_addr", remote),
				zap.Error(err),
			)
			return
		}
	}
}

// push writes every byte to the down channel, waiting out a full ring.
func (s *server) push(data []byte) error {
	for len(data) > 0 {
		select {
		case <-s.done:
			return nil
		default:
		}
		n, err := s.sess.RTTWrite(s.channel, data)
		if err != nil {
			return err
		}
		if n == 0 {
			// Ring full until the firmware drains it.
			time.Sleep(s.poll)
			continue
		}
		data = data[n:]
	}
	return nil
}

// writePump is the only writer on the connection: broadcast data and the
// keepalive pings both leave through here.
func (s *server) writePump(c *client, remote string) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop unregisters a client once; the closed send channel tells the
// write pump to finish.
func (s *server) drop(c *client, remote string) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
	logging.LogConnection(remote, "websocket_closed")
}
