// Package debugserver exposes a small HTTP+WebSocket introspection surface
// over a running Client: pool and topology health as JSON, and a live
// tail of the runtime's event stream over a websocket.
package debugserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/glidecore/valkeycore/client"
	"github.com/glidecore/valkeycore/events"
)

// Server is a fiber-backed introspection endpoint. It also implements
// events.Sink, so it can be registered as the Client's sink (or chained
// via events.Multi) to tail live events over /events.
type Server struct {
	App    *fiber.App
	client *client.Client

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]chan events.Event
}

// New builds a Server around c. serverName and bodyLimit are passed to
// fiber as its ServerHeader and BodyLimit settings.
func New(c *client.Client, serverName string, bodyLimit int) *Server {
	s := &Server{
		client:  c,
		clients: map[*websocket.Conn]chan events.Event{},
	}

	app := fiber.New(fiber.Config{
		ServerHeader: serverName,
		BodyLimit:    bodyLimit,
	})

	app.Get("/health", s.handleHealth)
	app.Get("/topology", s.handleTopology)

	app.Use("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/events", websocket.New(s.handleEvents))

	s.App = app
	return s
}

// Emit implements events.Sink, broadcasting e to every connected /events
// websocket. A slow or stalled reader is dropped rather than allowed to
// block event emission for the rest of the runtime.
func (s *Server) Emit(e events.Event) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for conn, ch := range s.clients {
		select {
		case ch <- e:
		default:
			delete(s.clients, conn)
			close(ch)
		}
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"pools": s.client.PoolStats(),
	})
}

func (s *Server) handleTopology(c *fiber.Ctx) error {
	snap := s.client.Topology()
	if snap == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cluster_mode is disabled"})
	}
	return c.JSON(snap)
}

func (s *Server) handleEvents(conn *websocket.Conn) {
	ch := make(chan events.Event, 64)

	s.clientsMu.Lock()
	s.clients[conn] = ch
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	for e := range ch {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

// Listen starts serving on addr, blocking until ctx is canceled or the
// server fails to start.
func (s *Server) Listen(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.App.ShutdownWithContext(shutdownCtx)
	}()
	return s.App.Listen(addr)
}
