package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"slidestream/internal/session"
	"slidestream/internal/slide"
	"slidestream/internal/wire"
)

// HandleStream upgrades /ws/slides/{id}?codec=msgpack|cbor to a websocket and
// runs one viewport session over it. The client sends JSON viewport requests;
// the server answers with binary frames.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slideID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/slides/"), "/")
	if slideID == "" || strings.Contains(slideID, "/") {
		http.NotFound(w, r)
		return
	}
	codec, err := wire.NewFrameCodec(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	server := websocket.Server{
		Handshake: func(_ *websocket.Config, req *http.Request) error {
			if !h.originAllowed(req) {
				return errors.New("origin not allowed")
			}
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			h.stream(ws, slideID, codec)
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Handlers) stream(ws *websocket.Conn, slideID string, codec wire.FrameCodec) {
	defer ws.Close()

	conn := &frameConn{ws: ws, codec: codec, writeTimeout: h.config.WriteTimeout.Duration}
	log := h.logger.With(zap.String("slide_id", slideID), zap.String("codec", codec.Name()))

	handle, err := h.slides.Open(slideID)
	if err != nil {
		log.Warn("Stream rejected", zap.Error(err))
		conn.send(wire.Frame{Type: wire.FrameError, Message: slide.ErrSlideOpen.Error()})
		return
	}

	hello, err := h.hello(slideID, handle)
	if err != nil {
		log.Error("Failed to describe slide", zap.Error(err))
		conn.send(wire.Frame{Type: wire.FrameError, Message: slide.ErrSlideOpen.Error()})
		return
	}

	sess := session.New(handle, h.tiles, h.encoder, conn, session.Options{
		TileEdge:    h.config.TileEdge,
		TileTimeout: h.config.TileTimeout.Duration,
		MaxInFlight: h.config.SessionMaxInFlight,
		MaxTiles:    h.config.SessionMaxTiles,
		Logger:      log,
	})
	defer sess.Close()
	// Runs before sess.Close so blocked writes fail fast.
	defer ws.Close()

	h.activeSessions.Add(1)
	defer h.activeSessions.Add(-1)

	log = log.With(zap.String("session_id", sess.ID()))
	log.Info("Stream opened")
	defer log.Info("Stream closed")

	if err := conn.send(hello); err != nil {
		log.Debug("Failed to send hello", zap.Error(err))
		return
	}

	for {
		var msg []byte
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("Stream read failed", zap.Error(err))
			}
			return
		}

		req, err := wire.ParseViewportRequest(msg)
		if err == nil {
			_, err = sess.SetViewport(req.Level, req.Rect)
		}
		if err != nil {
			if errors.Is(err, session.ErrSessionClosed) {
				return
			}
			if sendErr := conn.send(wire.Frame{Type: wire.FrameError, Message: err.Error()}); sendErr != nil {
				return
			}
		}
	}
}

func (h *Handlers) hello(slideID string, handle slide.Handle) (wire.Frame, error) {
	levels, err := h.levels(handle)
	if err != nil {
		return wire.Frame{}, err
	}
	frame := wire.Frame{
		Type:     wire.FrameHello,
		Slide:    slideID,
		TileEdge: h.config.TileEdge,
		Format:   h.encoder.Format(),
	}
	for _, l := range levels {
		frame.Levels = append(frame.Levels, wire.Level{Width: l.Width, Height: l.Height})
	}
	return frame, nil
}

// frameConn writes frames to a websocket. It is the session's delivery sink.
type frameConn struct {
	ws           *websocket.Conn
	codec        wire.FrameCodec
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *frameConn) send(f wire.Frame) error {
	data, err := c.codec.Marshal(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return websocket.Message.Send(c.ws, data)
}

func (c *frameConn) Deliver(_ context.Context, d session.Delivery) error {
	f := wire.Frame{
		Type:       wire.FrameTile,
		Level:      d.Key.Level,
		Row:        d.Key.Row,
		Col:        d.Key.Col,
		Generation: d.Generation,
		Format:     d.Format,
		Data:       d.Data,
	}
	if d.Missing() {
		f.Type = wire.FrameMissing
		f.Format = ""
		f.Data = nil
		f.Reason = d.Err.Error()
	}
	return c.send(f)
}
