package script

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	ok := Script{
		Move{Distance: -20},
		Repeat{Count: 0, Body: Script{TurnRight{Degrees: 90}}},
		Repeat{Count: 2, Body: Script{Repeat{Count: 3, Body: Script{Say{Text: "hi", Seconds: 0}}}}},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cases := []struct {
		name string
		s    Script
		want string
	}{
		{"nan move", Script{Move{Distance: math.NaN()}}, "distance must be finite"},
		{"inf turn", Script{TurnLeft{Degrees: math.Inf(1)}}, "degrees must be finite"},
		{"negative repeat", Script{Repeat{Count: -1}}, "count must be >= 0"},
		{"nested", Script{Repeat{Count: 1, Body: Script{GoTo{X: math.NaN()}}}}, "body[0] goto"},
		{"negative say", Script{Say{Text: "x", Seconds: -1}}, "duration must be >= 0"},
		{"nil", Script{nil}, "nil instruction"},
	}
	for _, tc := range cases {
		err := tc.s.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %q want substring %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestUnmarshal_EditorBlocks(t *testing.T) {
	raw := `[
	  {"type":"move","value":10},
	  {"type":"turn-left","value":15},
	  {"type":"goto","value":{"x":100,"y":50}},
	  {"type":"repeat","value":3,"subBlocks":[{"type":"turn-right","value":90},{"type":"say","value":"Hello","duration":2}]},
	  {"type":"think","value":"Hmm...","duration":3},
	  {"type":"glide","value":1}
	]`
	var s Script
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(s) != 6 {
		t.Fatalf("len: got %d want 6", len(s))
	}
	if s[0] != (Move{Distance: 10}) {
		t.Fatalf("move: got %#v", s[0])
	}
	if s[2] != (GoTo{X: 100, Y: 50}) {
		t.Fatalf("goto: got %#v", s[2])
	}
	rep, ok := s[3].(Repeat)
	if !ok || rep.Count != 3 || len(rep.Body) != 2 {
		t.Fatalf("repeat: got %#v", s[3])
	}
	if rep.Body[1] != (Say{Text: "Hello", Seconds: 2}) {
		t.Fatalf("repeat body say: got %#v", rep.Body[1])
	}
	if u, ok := s[5].(Unknown); !ok || u.Kind() != "glide" {
		t.Fatalf("unknown: got %#v", s[5])
	}
	if got := s.Count(); got != 8 {
		t.Fatalf("count: got %d want 8", got)
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	for _, raw := range []string{
		`[{"value":1}]`,
		`[{"type":"move"}]`,
		`[{"type":"move","value":"ten"}]`,
		`[{"type":"repeat","value":1.5}]`,
		`[{"type":"goto","value":3}]`,
	} {
		var s Script
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestMarshal_RoundTripNested(t *testing.T) {
	in := Script{
		Repeat{Count: 2, Body: Script{Move{Distance: 5}, Think{Text: "t", Seconds: 1}}},
		GoTo{X: 1, Y: 2},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"body":[{"type":"move","value":5}`) {
		t.Fatalf("unexpected wire form: %s", b)
	}
	var out Script
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rep := out[0].(Repeat)
	if rep.Count != 2 || rep.Body[0] != (Move{Distance: 5}) || rep.Body[1] != (Think{Text: "t", Seconds: 1}) {
		t.Fatalf("round trip: got %#v", out)
	}
}

func TestPalette_Valid(t *testing.T) {
	p := Palette()
	if err := p.Validate(); err != nil {
		t.Fatalf("palette: %v", err)
	}
	if len(p) != 7 {
		t.Fatalf("palette size: got %d want 7", len(p))
	}
}
