package bridge

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/syncer"
)

// fakeBackend records calls and lets tests drive progress events.
type fakeBackend struct {
	mu        sync.Mutex
	received  []*schema.Mutation
	triggered int
	online    bool
	result    *syncer.Result
	err       error

	progressFn func(syncer.Progress)
}

func (f *fakeBackend) PerformSync(_ context.Context, muts []*schema.Mutation) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, muts...)
	return f.result, f.err
}

func (f *fakeBackend) TriggerSync(context.Context) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered++
	return f.result, f.err
}

func (f *fakeBackend) Online(context.Context) bool { return f.online }

func (f *fakeBackend) Subscribe(fn func(syncer.Progress)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressFn = fn
	return func() {}
}

func (f *fakeBackend) emit(p syncer.Progress) {
	f.mu.Lock()
	fn := f.progressFn
	f.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func setupBridge(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()

	logger := log.New(os.Stderr, "[test-bridge] ", 0)
	srv := NewServer(backend, &ServerConfig{
		Port:       0,
		AppName:    "pokevault",
		AppVersion: "1.2.3",
		Logger:     logger,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start bridge server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, "ws://"+srv.Addr()+"/ws", logger)
	if err != nil {
		t.Fatalf("failed to dial bridge: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{"valid request", Envelope{Kind: KindRequest, ID: 1, Channel: ChannelPerformSync}, ""},
		{"valid event", Envelope{Kind: KindEvent, Channel: ChannelSyncStatus}, ""},
		{"request without id", Envelope{Kind: KindRequest, Channel: ChannelPerformSync}, "requires an id"},
		{"unknown kind", Envelope{Kind: "push", Channel: ChannelPerformSync}, "unknown envelope kind"},
		{"unknown channel", Envelope{Kind: KindEvent, Channel: "eval-js"}, "unknown channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestToMutations(t *testing.T) {
	wire := []WireMutation{
		{ID: "m-1", Operation: "create", Data: json.RawMessage(`{"id":"25"}`), Timestamp: 100},
		{ID: "m-2", Operation: "delete", Data: json.RawMessage(`{"id":"26"}`), Timestamp: 101},
	}

	muts, err := toMutations(wire, "items")
	if err != nil {
		t.Fatalf("toMutations failed: %v", err)
	}
	if muts[0].Entity != "items" || muts[0].Type != schema.MutationCreate {
		t.Errorf("unexpected conversion: %+v", muts[0])
	}
	if muts[1].Type != schema.MutationDelete {
		t.Errorf("unexpected conversion: %+v", muts[1])
	}

	wire[1].Operation = "upsert"
	if _, err := toMutations(wire, "items"); err == nil {
		t.Error("expected whole batch rejected on bad operation")
	}
}

func TestPerformSyncRoundTrip(t *testing.T) {
	backend := &fakeBackend{
		result: &syncer.Result{
			Successful: []string{"m-1"},
			Failed:     []syncer.FailedMutation{{ID: "m-2", Error: "server error"}},
			Total:      2,
		},
	}
	client := setupBridge(t, backend)
	ctx := context.Background()

	outcome, err := client.PerformSync(ctx, []WireMutation{
		{ID: "m-1", Operation: "create", Data: json.RawMessage(`{"id":"25"}`), Timestamp: 100},
		{ID: "m-2", Operation: "update", Data: json.RawMessage(`{"id":"26"}`), Timestamp: 101},
	})
	if err != nil {
		t.Fatalf("PerformSync failed: %v", err)
	}

	if outcome.Success {
		t.Error("expected partial failure reported as success=false")
	}
	if outcome.Data == nil || outcome.Data.Total != 2 || len(outcome.Data.Failed) != 1 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.received) != 2 || backend.received[0].Entity != "items" {
		t.Errorf("backend received %+v", backend.received)
	}
}

func TestPerformSyncRejectsMalformedBatch(t *testing.T) {
	client := setupBridge(t, &fakeBackend{result: &syncer.Result{}})
	ctx := context.Background()

	_, err := client.PerformSync(ctx, []WireMutation{
		{ID: "m-1", Operation: "explode", Data: json.RawMessage(`{"id":"25"}`), Timestamp: 100},
	})
	if err == nil || !strings.Contains(err.Error(), "mutation 0") {
		t.Errorf("expected batch rejection, got %v", err)
	}
}

func TestTriggerSyncAndStatusQueries(t *testing.T) {
	backend := &fakeBackend{
		online: true,
		result: &syncer.Result{Successful: []string{"m-1"}, Total: 1},
	}
	client := setupBridge(t, backend)
	ctx := context.Background()

	outcome, err := client.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if !outcome.Success || outcome.Data.Total != 1 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if backend.triggered != 1 {
		t.Errorf("expected 1 backend trigger, got %d", backend.triggered)
	}

	online, err := client.CheckOnline(ctx)
	if err != nil || !online {
		t.Errorf("expected online, got %v %v", online, err)
	}

	// The raw online payload carries the time of the check.
	before := time.Now().UnixMilli()
	resp, err := client.call(ctx, ChannelCheckOnline, nil)
	if err != nil {
		t.Fatalf("check-online-status call failed: %v", err)
	}
	var status OnlineStatus
	if err := json.Unmarshal(resp.Payload, &status); err != nil {
		t.Fatalf("malformed online status: %v", err)
	}
	if !status.Online {
		t.Error("expected online status")
	}
	if status.Timestamp < before || status.Timestamp > time.Now().UnixMilli() {
		t.Errorf("expected check timestamp near now, got %d", status.Timestamp)
	}

	info, err := client.AppInfo(ctx)
	if err != nil {
		t.Fatalf("AppInfo failed: %v", err)
	}
	if info.Name != "pokevault" || info.Version != "1.2.3" {
		t.Errorf("unexpected app info: %+v", info)
	}
	if info.Platform != runtime.GOOS {
		t.Errorf("expected platform %q, got %q", runtime.GOOS, info.Platform)
	}
}

func TestServerRejectsUnknownChannel(t *testing.T) {
	client := setupBridge(t, &fakeBackend{})
	ctx := context.Background()

	// sync-status is server-to-client only; a request on it must be
	// refused without dropping the connection.
	if _, err := client.call(ctx, ChannelSyncStatus, nil); err == nil {
		t.Error("expected server-side rejection for server-only channel")
	}

	// The connection still works.
	if _, err := client.AppInfo(ctx); err != nil {
		t.Errorf("connection unusable after rejected call: %v", err)
	}
}

func TestSyncStatusBroadcast(t *testing.T) {
	backend := &fakeBackend{}
	client := setupBridge(t, backend)

	events := make(chan syncer.Progress, 4)
	unsub, err := client.On(ChannelSyncStatus, func(payload json.RawMessage) {
		var p syncer.Progress
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Errorf("malformed status payload: %v", err)
			return
		}
		events <- p
	})
	if err != nil {
		t.Fatalf("On failed: %v", err)
	}
	defer unsub()

	// A round-trip guarantees the server finished registering this
	// connection before broadcasting.
	if _, err := client.AppInfo(context.Background()); err != nil {
		t.Fatalf("AppInfo failed: %v", err)
	}

	backend.emit(syncer.Progress{Status: syncer.StatusSyncing, Total: 3})
	backend.emit(syncer.Progress{Status: syncer.StatusCompleted, Successful: 3})

	for _, want := range []syncer.Status{syncer.StatusSyncing, syncer.StatusCompleted} {
		select {
		case p := <-events:
			if p.Status != want {
				t.Errorf("expected %s event, got %+v", want, p)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestRequestSyncBroadcast(t *testing.T) {
	backend := &fakeBackend{}

	logger := log.New(os.Stderr, "[test-bridge] ", 0)
	srv := NewServer(backend, &ServerConfig{Port: 0, Logger: logger})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	ctx := context.Background()
	client, err := Dial(ctx, "ws://"+srv.Addr()+"/ws", logger)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	got := make(chan struct{}, 1)
	unsub, err := client.On(ChannelSyncRequested, func(json.RawMessage) {
		got <- struct{}{}
	})
	if err != nil {
		t.Fatalf("On failed: %v", err)
	}
	defer unsub()

	if _, err := client.AppInfo(ctx); err != nil {
		t.Fatalf("AppInfo failed: %v", err)
	}

	srv.RequestSync()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync-requested event")
	}
}

func TestOnValidatesRegistration(t *testing.T) {
	client := setupBridge(t, &fakeBackend{})

	if _, err := client.On("eval-js", func(json.RawMessage) {}); err == nil {
		t.Error("expected rejection for unknown channel")
	}
	if _, err := client.On(ChannelSyncStatus, nil); err == nil {
		t.Error("expected rejection for nil handler")
	}
}
