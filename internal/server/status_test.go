package server

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ironcraft.dev/internal/protocol"
)

func compileStatusSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", "status.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", p, err)
	}
	return s
}

func validateStatus(t *testing.T, schema *jsonschema.Schema, doc string) {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		t.Fatalf("validate status: %v", err)
	}
}

func TestStatusDocumentMatchesSchema(t *testing.T) {
	schema := compileStatusSchema(t)
	srv := New(Options{MOTD: "schema check", MaxPlayers: 20}, nil, nil, nil, log.New(io.Discard, "", 0))

	doc, err := srv.statusJSON()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	validateStatus(t, schema, doc)
}

func TestStatusDocumentWithFavicon(t *testing.T) {
	schema := compileStatusSchema(t)
	icon := filepath.Join(t.TempDir(), "icon.png")
	if err := os.WriteFile(icon, []byte("\x89PNG\r\n\x1a\nfake image bytes"), 0o644); err != nil {
		t.Fatalf("write favicon: %v", err)
	}
	srv := New(Options{MOTD: "with icon", FaviconPath: icon}, nil, nil, nil, log.New(io.Discard, "", 0))

	doc, err := srv.statusJSON()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var parsed struct {
		Favicon string `json:"favicon"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(parsed.Favicon, "data:image/png;base64,") {
		t.Fatalf("favicon = %q, want a png data uri", parsed.Favicon)
	}
	validateStatus(t, schema, doc)
}

func TestStatusMissingFaviconOmitted(t *testing.T) {
	srv := New(Options{MOTD: "no icon", FaviconPath: "/nonexistent/icon.png"}, nil, nil, nil, log.New(io.Discard, "", 0))
	doc, err := srv.statusJSON()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(doc, "favicon") {
		t.Fatalf("unreadable favicon should be omitted: %s", doc)
	}
}

func TestStatusCountsOnline(t *testing.T) {
	env := newTestEnv(t, nil)
	player := env.dial()
	player.login("Steve")

	watcher := env.dial()
	watcher.handshake(protocol.NextStatus)
	watcher.send(&protocol.StatusRequest{})
	resp, ok := watcher.recv().(*protocol.StatusResponse)
	if !ok {
		t.Fatalf("want StatusResponse")
	}

	var doc struct {
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
			Sample []struct {
				Name string `json:"name"`
				ID   string `json:"id"`
			} `json:"sample"`
		} `json:"players"`
	}
	if err := json.Unmarshal([]byte(resp.JSON), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Players.Online != 1 {
		t.Fatalf("online = %d, want 1", doc.Players.Online)
	}
	found := false
	for _, s := range doc.Players.Sample {
		if s.Name == "Steve" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sample %v missing the logged-in player", doc.Players.Sample)
	}
	validateStatus(t, compileStatusSchema(t), resp.JSON)
}
