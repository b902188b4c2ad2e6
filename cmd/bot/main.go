package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/script"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "client name")
		scriptPath = flag.String("script", "", "script JSON file (default: a square walk)")
		runAll     = flag.Bool("all", false, "give every actor the script and RUN_ALL")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	prog, err := loadScript(*scriptPath)
	if err != nil {
		logger.Fatalf("script: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Stage:           &protocol.StageSize{Width: 480, Height: 360},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	var lastSeq uint64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s actors=%d stage=%gx%g", w.SessionID, len(w.Actors), w.Params.Stage.Width, w.Params.Stage.Height)
			if len(w.Actors) == 0 {
				logger.Printf("no actors on stage")
				return
			}
			if err := start(conn, w.Actors, prog, *runAll); err != nil {
				logger.Fatalf("start: %v", err)
			}

		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			if !r.OK {
				logger.Printf("RESULT ref=%s code=%s message=%s", r.Ref, r.Code, r.Message)
			}

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil || st.Seq == lastSeq {
				continue
			}
			lastSeq = st.Seq
			for _, a := range st.Actors {
				line := fmt.Sprintf("%s %q pos=(%.0f,%.0f) dir=%.0f run=%v", a.ID, a.Name, a.X, a.Y, a.Direction, a.Run)
				if a.Message != "" {
					line += fmt.Sprintf(" says=%q", a.Message)
				}
				if a.Thinking != "" {
					line += fmt.Sprintf(" thinks=%q", a.Thinking)
				}
				logger.Print(line)
			}
		}
	}
}

// start assigns prog and requests the run. The first actor alone runs
// exclusively unless all is set.
func start(conn *websocket.Conn, actors []protocol.ActorView, prog script.Script, all bool) error {
	targets := actors[:1]
	if all {
		targets = actors
	}
	n := 0
	next := func() string { n++; return fmt.Sprintf("c%d", n) }

	for _, a := range targets {
		cmd := protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			ID:              next(),
			Op:              protocol.OpSetScript,
			ActorID:         a.ID,
			Script:          prog,
		}
		if err := conn.WriteJSON(cmd); err != nil {
			return err
		}
	}
	run := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              next(),
		Op:              protocol.OpRun,
		ActorIDs:        []string{targets[0].ID},
		Mode:            "exclusive",
	}
	if all {
		run.Op = protocol.OpRunAll
		run.ActorIDs = nil
		run.Mode = ""
	}
	return conn.WriteJSON(run)
}

func loadScript(path string) (script.Script, error) {
	if path == "" {
		return script.Script{
			script.Say{Text: "off I go", Seconds: 1},
			script.Repeat{Count: 4, Body: script.Script{
				script.Move{Distance: 100},
				script.TurnRight{Degrees: 90},
			}},
			script.Think{Text: "back home?", Seconds: 1},
		}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s script.Script
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
