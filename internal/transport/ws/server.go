package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/runctl"
	"blockstage.ai/internal/sim/stage"
	"blockstage.ai/internal/transport/feed"
)

type Config struct {
	// Params is read once per session for WELCOME.
	Params func() protocol.StageParams

	MaxActors       int
	MaxScriptBlocks int

	// StateInterval paces STATE frames; feed.DefaultInterval when zero.
	StateInterval time.Duration
}

// Server is the editor/renderer endpoint: it accepts CMD frames that edit
// actors and request runs, and streams STATE frames back.
type Server struct {
	store     *stage.Store
	runs      *runctl.Controller
	viewport  *stage.Viewport
	validator *protocol.Validator
	cfg       Config
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(store *stage.Store, runs *runctl.Controller, viewport *stage.Viewport, v *protocol.Validator, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Params == nil {
		cfg.Params = func() protocol.StageParams { return protocol.StageParams{} }
	}
	return &Server{
		store:     store,
		runs:      runs,
		viewport:  viewport,
		validator: v,
		cfg:       cfg,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid, name := s.handshake(conn)
		if sid == "" {
			return
		}
		s.log.Printf("ws: session %s (%s) connected from %s", sid, name, r.RemoteAddr)
		defer s.log.Printf("ws: session %s closed", sid)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		stateOut := make(chan []byte, 1)
		resultOut := make(chan []byte, 32)

		go feed.Run(ctx, s.store, s.cfg.StateInterval, func(b []byte) { feed.SendLatest(stateOut, b) })

		// Writer goroutine. Results are never dropped; STATE is latest-wins.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-resultOut:
				case b = <-stateOut:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				continue
			}
			res := s.handleFrame(msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case resultOut <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, name string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", ""
	}
	if s.validator != nil {
		if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
			closeWith(conn, "bad HELLO")
			return "", ""
		}
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", ""
	}
	if hello.Stage != nil && s.viewport != nil {
		s.viewport.Set(stage.Rect{Width: hello.Stage.Width, Height: hello.Stage.Height})
	}
	name = strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		Params:          s.cfg.Params(),
		Actors:          protocol.Views(s.store.List()),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return welcome.SessionID, name
}

func (s *Server) handleFrame(msg []byte) protocol.ResultMsg {
	var cmd protocol.CmdMsg
	if s.validator != nil {
		if err := s.validator.Validate(protocol.TypeCmd, msg); err != nil {
			_ = json.Unmarshal(msg, &cmd) // best effort, for ref
			return fail(cmd.ID, protocol.ErrProtoBadRequest, err.Error())
		}
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return fail(cmd.ID, protocol.ErrProtoBadRequest, err.Error())
	}
	if cmd.ProtocolVersion != protocol.Version {
		return fail(cmd.ID, protocol.ErrProtoVersion, "unsupported protocol_version "+cmd.ProtocolVersion)
	}
	return s.Apply(cmd)
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
