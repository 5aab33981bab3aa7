package llm

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"wrapped in prose", `Sure! Here you go: {"a":1} hope it helps`, `{"a":1}`},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONObject(tt.in); got != tt.want {
				t.Errorf("ExtractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripTrailingCommas(t *testing.T) {
	in := `{"a": [1, 2,], "b": {"c": 3,},}`
	want := `{"a": [1, 2], "b": {"c": 3}}`
	if got := StripTrailingCommas(in); got != want {
		t.Errorf("StripTrailingCommas() = %q, want %q", got, want)
	}
}

func TestDecodeLoose(t *testing.T) {
	var v struct {
		Action      string `json:"action"`
		WaitSeconds int    `json:"wait_seconds"`
	}
	raw := "The plan is:\n```json\n{\"action\": \"wait\", \"wait_seconds\": 30,}\n```"
	if err := DecodeLoose(raw, &v); err != nil {
		t.Fatalf("DecodeLoose: %v", err)
	}
	if v.Action != "wait" || v.WaitSeconds != 30 {
		t.Errorf("decoded %+v", v)
	}
}

func TestDecodeLoose_TopLevelArray(t *testing.T) {
	var habits []struct {
		Example string `json:"example"`
	}
	raw := "Here:\n[{\"example\":\"lol\"},{\"example\":\"nah\"},]"
	if err := DecodeLoose(raw, &habits); err != nil {
		t.Fatalf("DecodeLoose: %v", err)
	}
	if len(habits) != 2 || habits[1].Example != "nah" {
		t.Errorf("decoded %+v", habits)
	}
}

func TestDecodeLoose_Invalid(t *testing.T) {
	var v map[string]any
	if err := DecodeLoose("total garbage", &v); err == nil {
		t.Error("expected error for non-JSON input")
	}
}
