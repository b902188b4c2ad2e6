package ws

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"blockstage.ai/internal/protocol"
	"blockstage.ai/internal/sim/runctl"
	"blockstage.ai/internal/sim/script"
	"blockstage.ai/internal/sim/stage"
)

var (
	errBadRequest = errors.New("bad request")
	errLimit      = errors.New("limit exceeded")
)

// Apply executes one decoded command against the stage.
func (s *Server) Apply(cmd protocol.CmdMsg) protocol.ResultMsg {
	var (
		actorID string
		err     error
	)
	switch cmd.Op {
	case protocol.OpAddActor:
		actorID, err = s.addActor(cmd.Actor)
	case protocol.OpRemoveActor:
		actorID, err = cmd.ActorID, s.store.Remove(cmd.ActorID)
	case protocol.OpEditActor:
		actorID, err = cmd.ActorID, s.editActor(cmd)
	case protocol.OpSetScript:
		actorID, err = cmd.ActorID, s.setScript(cmd.ActorID, cmd.Script)
	case protocol.OpRun:
		var mode runctl.Mode
		if mode, err = runctl.ParseMode(cmd.Mode); err != nil {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
			break
		}
		err = s.runs.RequestRun(cmd.ActorIDs, mode)
	case protocol.OpStop:
		err = s.runs.Stop(cmd.ActorIDs)
	case protocol.OpRunAll:
		s.runs.RunAll()
	case protocol.OpSetStage:
		err = s.setStage(cmd.Stage)
	default:
		err = fmt.Errorf("%w: unknown op %q", errBadRequest, cmd.Op)
	}
	if err != nil {
		return fail(cmd.ID, codeFor(err), err.Error())
	}
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Ref: cmd.ID, OK: true, ActorID: actorID}
}

func (s *Server) addActor(spec *protocol.ActorSpec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("%w: missing actor", errBadRequest)
	}
	if s.cfg.MaxActors > 0 && s.store.Len() >= s.cfg.MaxActors {
		return "", fmt.Errorf("%w: max_actors=%d", errLimit, s.cfg.MaxActors)
	}
	if !finite(spec.X, spec.Y, spec.Direction, spec.Size) || spec.Size < 0 {
		return "", fmt.Errorf("%w: position, direction and size must be finite", errBadRequest)
	}
	if err := s.checkScript(spec.Script); err != nil {
		return "", err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = fmt.Sprintf("Actor %d", s.store.Len()+1)
	}
	a := s.store.Add(stage.Actor{
		Name:      name,
		Position:  stage.Vec2{X: spec.X, Y: spec.Y},
		Direction: spec.Direction,
		Size:      spec.Size,
		Script:    spec.Script,
	})
	return a.ID, nil
}

func (s *Server) editActor(cmd protocol.CmdMsg) error {
	return s.store.Update(cmd.ActorID, func(a *stage.Actor) (stage.Field, error) {
		var m stage.Field
		if cmd.X != nil || cmd.Y != nil {
			if cmd.X != nil {
				a.Position.X = *cmd.X
			}
			if cmd.Y != nil {
				a.Position.Y = *cmd.Y
			}
			if !finite(a.Position.X, a.Position.Y) {
				return 0, fmt.Errorf("%w: position must be finite", errBadRequest)
			}
			m |= stage.FieldPosition
		}
		if cmd.Direction != nil {
			if !finite(*cmd.Direction) {
				return 0, fmt.Errorf("%w: direction must be finite", errBadRequest)
			}
			a.Direction = *cmd.Direction
			m |= stage.FieldDirection
		}
		if cmd.Size != nil {
			if !finite(*cmd.Size) || *cmd.Size <= 0 {
				return 0, fmt.Errorf("%w: size must be > 0", errBadRequest)
			}
			a.Size = *cmd.Size
			m |= stage.FieldSize
		}
		if cmd.Name != nil {
			a.Name = strings.TrimSpace(*cmd.Name)
			m |= stage.FieldName
		}
		return m, nil
	})
}

// setScript replaces the script, invalidates any interpreter still running
// the old one and clears the run flag; a later RUN starts the new script.
func (s *Server) setScript(id string, sc script.Script) error {
	if err := s.checkScript(sc); err != nil {
		return err
	}
	return s.store.Update(id, func(a *stage.Actor) (stage.Field, error) {
		a.Script = sc
		a.Token++
		a.Run = false
		return stage.FieldScript | stage.FieldToken | stage.FieldRun, nil
	})
}

func (s *Server) checkScript(sc script.Script) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if s.cfg.MaxScriptBlocks > 0 && sc.Count() > s.cfg.MaxScriptBlocks {
		return fmt.Errorf("%w: script has %d blocks, max_script_blocks=%d", errLimit, sc.Count(), s.cfg.MaxScriptBlocks)
	}
	return nil
}

func (s *Server) setStage(sz *protocol.StageSize) error {
	if sz == nil || s.viewport == nil {
		return fmt.Errorf("%w: missing stage", errBadRequest)
	}
	if !s.viewport.Set(stage.Rect{Width: sz.Width, Height: sz.Height}) {
		return fmt.Errorf("%w: stage width and height must be > 0", errBadRequest)
	}
	return nil
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, stage.ErrNotFound):
		return protocol.ErrInvalidTarget
	case errors.Is(err, errLimit):
		return protocol.ErrLimit
	case errors.Is(err, errBadRequest):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

func fail(ref, code, msg string) protocol.ResultMsg {
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Ref: ref, OK: false, Code: code, Message: msg}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
