package jsonx

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	in := payload{Name: "fuel_exhausted", Count: 3}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out payload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMarshalCompatibleWithStandardLibraryTags(t *testing.T) {
	type payload struct {
		Hidden string `json:"-"`
		Shown  string `json:"shown"`
	}
	data, err := Marshal(payload{Hidden: "nope", Shown: "yes"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(data)
	if got != `{"shown":"yes"}` {
		t.Fatalf("unexpected json: %s", got)
	}
}
