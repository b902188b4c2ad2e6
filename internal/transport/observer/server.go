package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"blockstage.ai/internal/observerproto"
	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/transport/feed"
)

// Sources is what the read-only observer reports besides the store.
type Sources struct {
	Running      func() []string
	Cooling      func() bool
	Bounds       stage.Bounds
	DefaultStage stage.Rect
}

// Server exposes loopback-only, read-only views of the stage.
type Server struct {
	store *stage.Store
	src   Sources
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(store *stage.Store, src Sources, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if src.DefaultStage.Width <= 0 || src.DefaultStage.Height <= 0 {
		src.DefaultStage = stage.DefaultStage
	}
	return &Server{
		store: store,
		src:   src,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Bootstrap() observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		Seq:             s.store.Seq(),
		Stage:           protocol.StageSize{Width: s.src.DefaultStage.Width, Height: s.src.DefaultStage.Height},
		Running:         []string{},
	}
	if s.src.Bounds != nil {
		if r, ok := s.src.Bounds.StageSize(); ok {
			resp.Stage = protocol.StageSize{Width: r.Width, Height: r.Height}
			resp.StageReported = true
		}
	}
	if s.src.Running != nil {
		resp.Running = s.src.Running()
	}
	if s.src.Cooling != nil {
		resp.Cooling = s.src.Cooling()
	}
	resp.Actors = protocol.Views(s.store.List())
	return resp
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		id := s.nextID.Add(1)
		s.log.Printf("observer: O%d subscribed from %s interval=%dms", id, r.RemoteAddr, sub.IntervalMs)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 1)
		interval := make(chan time.Duration, 1)
		interval <- time.Duration(sub.IntervalMs) * time.Millisecond

		// Feed goroutine: restarted whenever the interval changes.
		go func() {
			var stopFeed context.CancelFunc = func() {}
			defer func() { stopFeed() }()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-interval:
					stopFeed()
					var fctx context.Context
					fctx, stopFeed = context.WithCancel(ctx)
					go feed.Run(fctx, s.store, d, func(b []byte) { feed.SendLatest(out, b) })
				}
			}
		}()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case interval <- time.Duration(sub.IntervalMs) * time.Millisecond:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.IntervalMs <= 0 {
		sub.IntervalMs = 100
	}
	if sub.IntervalMs < 16 {
		sub.IntervalMs = 16
	}
	if sub.IntervalMs > 5000 {
		sub.IntervalMs = 5000
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
