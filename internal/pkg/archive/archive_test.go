package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestObjectKeyLayout(t *testing.T) {
	id := uuid.MustParse("7f8c4d2e-1b3a-4c5d-9e6f-0a1b2c3d4e5f")
	day := time.Date(2026, 3, 7, 23, 30, 0, 0, time.UTC)

	got := ObjectKey("cold", "clicks", day, id)
	want := "cold/clicks/2026/03/07/7f8c4d2e-1b3a-4c5d-9e6f-0a1b2c3d4e5f.jsonl"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	if got := ObjectKey("", "clicks", day, id); !strings.HasPrefix(got, "clicks/2026/") {
		t.Fatalf("expected prefix-less key, got %s", got)
	}
}

func TestEncodeJSONL(t *testing.T) {
	type row struct {
		ID string `json:"id"`
	}
	out, err := EncodeJSONL([]row{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "{\"id\":\"a\"}\n{\"id\":\"b\"}\n" {
		t.Fatalf("unexpected payload: %q", out)
	}

	empty, err := EncodeJSONL([]row{})
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty payload, got %q, %v", empty, err)
	}
}
