package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/chatrelay/internal/config"
	"github.com/ent0n29/chatrelay/internal/memory"
)

func testConfig(t *testing.T, namespace string) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace:   namespace,
		DefaultSessionID:   "default-session",
		InferenceMode:      "mock",
		InferenceTimeout:   5 * time.Second,
		InferenceMaxTokens: 64,
	}
}

func TestBuildWiresMockRelay(t *testing.T) {
	ctx := context.Background()
	built, err := Build(ctx, testConfig(t, "test_app_build"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = built.Cleanup() })

	if built.StoreMode != "in-memory" || built.InferenceMode != "mock" {
		t.Fatalf("modes = %q/%q, want in-memory/mock", built.StoreMode, built.InferenceMode)
	}

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"text":"my name is Ada"}`))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var payload struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Reply != "I heard you: my name is Ada" {
		t.Fatalf("reply = %q", payload.Reply)
	}
}

func TestBuildRejectsUnknownInferenceMode(t *testing.T) {
	cfg := testConfig(t, "test_app_bad_mode")
	cfg.InferenceMode = "carrier-pigeon"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("Build() error = nil, want failure")
	}
}

func TestMemoryServerBacksRemoteRelay(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "test_app_memsrv")
	cfg.SQLitePath = filepath.Join(t.TempDir(), "chat.db")
	cfg.MemoryURL = "http://ignored.invalid"

	mem, err := BuildMemoryServer(ctx, cfg)
	if err != nil {
		t.Fatalf("BuildMemoryServer() error = %v", err)
	}
	t.Cleanup(func() { _ = mem.Cleanup() })
	if mem.Mode != "sqlite" {
		t.Fatalf("Mode = %q, want sqlite", mem.Mode)
	}
	memTS := httptest.NewServer(mem.Handler)
	defer memTS.Close()

	relayCfg := testConfig(t, "test_app_memsrv_relay")
	relayCfg.MemoryURL = memTS.URL
	built, err := Build(ctx, relayCfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = built.Cleanup() })
	if built.StoreMode != "remote" {
		t.Fatalf("StoreMode = %q, want remote", built.StoreMode)
	}

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()
	res, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"text":"hello","sessionId":"remote-1"}`))
	if err != nil {
		t.Fatalf("POST /chat error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	store, mode, err := OpenStore(ctx, relayCfg)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()
	if mode != "remote" {
		t.Fatalf("OpenStore mode = %q, want remote", mode)
	}
	log, err := store.List(ctx, "remote-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(log) != 2 || log[0] != memory.UserMessage("hello") || log[1].Role != memory.RoleAssistant {
		t.Fatalf("log = %+v", log)
	}
}
