package protocol

import (
	"testing"

	"blockstage.ai/internal/sim/script"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	validate := func(typ, raw string) {
		t.Helper()
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}

	validate(TypeHello, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"editor",
	  "stage":{"width":480,"height":360}
	}`)

	validate(TypeCmd, `{
	  "type":"CMD",
	  "protocol_version":"1.0",
	  "id":"C1",
	  "op":"SET_SCRIPT",
	  "actor_id":"A1",
	  "script":[
	    {"type":"move","value":10},
	    {"type":"goto","value":{"x":100,"y":100}},
	    {"type":"repeat","value":3,"body":[{"type":"turn-right","value":15},{"type":"say","value":"Hi","duration":2}]},
	    {"type":"glide","value":"whatever"}
	  ]
	}`)

	validate(TypeCmd, `{"type":"CMD","protocol_version":"1.0","id":"C2","op":"RUN","actor_ids":["A1","A2"],"mode":"additive"}`)
	validate(TypeCmd, `{"type":"CMD","protocol_version":"1.0","id":"C3","op":"RUN_ALL"}`)

	validate(TypeResult, `{"type":"RESULT","protocol_version":"1.0","ref":"C1","ok":false,"code":"E_INVALID_TARGET","message":"no such actor"}`)

	validate(TypeState, `{
	  "type":"STATE",
	  "protocol_version":"1.0",
	  "seq":7,
	  "actors":[{"id":"A1","name":"Cat","x":0,"y":0,"direction":90,"size":100,"message":"","thinking":"","run":true,"execution_token":2,"script":[]}]
	}`)

	w := WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: Version,
		SessionID:       "S1",
		Params: StageParams{
			Stage:               StageSize{Width: 480, Height: 360},
			SettleDelayMs:       300,
			MoveStepDelayMs:     10,
			CollisionTickMs:     100,
			CollisionCooldownMs: 1000,
			Palette:             script.Palette(),
		},
		Actors: []ActorView{},
	}
	if err := v.ValidateValue(TypeWelcome, w); err != nil {
		t.Fatalf("validate welcome: %v", err)
	}
}

func TestSchemas_RejectBadCmd(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	bad := []string{
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"FLY"}`,
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"SET_SCRIPT","actor_id":"A1"}`,
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"SET_SCRIPT","actor_id":"A1","script":[{"type":"repeat","value":2.5}]}`,
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"SET_SCRIPT","actor_id":"A1","script":[{"type":"move","value":"far"}]}`,
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"RUN"}`,
		`{"type":"CMD","protocol_version":"1.0","id":"C1","op":"SET_STAGE","stage":{"width":0,"height":10}}`,
	}
	for _, raw := range bad {
		if err := v.Validate(TypeCmd, []byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
	if err := v.Validate("OBS", []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}
