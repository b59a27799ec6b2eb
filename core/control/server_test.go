package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/extension"
	"github.com/correomqtt/pluginhost/core/plugin"
	"go.uber.org/zap"
)

type fakePlugins struct {
	mu     sync.Mutex
	states map[string]api.PluginState
	folder string
}

func (f *fakePlugins) List() []plugin.PluginInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []plugin.PluginInfo
	for _, id := range []string{"geo", "json"} {
		if state, ok := f.states[id]; ok {
			result = append(result, plugin.PluginInfo{ID: id, State: state})
		}
	}
	return result
}

func (f *fakePlugins) set(id string, state api.PluginState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[id]; !ok {
		return fmt.Errorf("plugin %s: %w", id, plugin.ErrPluginNotFound)
	}
	f.states[id] = state
	return nil
}

func (f *fakePlugins) state(id string) api.PluginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id]
}

func (f *fakePlugins) Enable(id string) error  { return f.set(id, api.StateStarted) }
func (f *fakePlugins) Disable(id string) error { return f.set(id, api.StateDisabled) }
func (f *fakePlugins) Stop(id string) error    { return f.set(id, api.StateStopped) }

func (f *fakePlugins) PluginFolder() (string, error) { return f.folder, nil }

type fakeHooks struct{}

func (fakeHooks) PreviewHooks(capability api.Capability, topic string) []extension.Handle {
	if topic != "sensors/+" {
		return nil
	}
	return []extension.Handle{{PluginID: "json", ID: "schema", Capability: capability}}
}

// socketPath returns a short path; unix socket paths are length limited
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T) (*fakePlugins, *Client) {
	t.Helper()
	plugins := &fakePlugins{
		states: map[string]api.PluginState{"geo": api.StateStarted, "json": api.StateDisabled},
		folder: "/tmp/plugins",
	}
	path := socketPath(t)
	server := NewServer(path, plugins, fakeHooks{}, api.FromZap(zap.NewNop()))
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, path)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return plugins, client
}

func do(t *testing.T, client *Client, req Request) (Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Do(ctx, req)
}

func TestServerList(t *testing.T) {
	_, client := startServer(t)

	resp, err := do(t, client, Request{Action: ActionList})
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if len(resp.Plugins) != 2 || resp.Plugins[0].ID != "geo" || resp.Plugins[1].State != api.StateDisabled {
		t.Errorf("plugins = %+v", resp.Plugins)
	}
	if resp.ID == "" {
		t.Error("request id not assigned")
	}
}

func TestServerLifecycleActions(t *testing.T) {
	plugins, client := startServer(t)

	tests := []struct {
		action string
		plugin string
		want   api.PluginState
	}{
		{ActionEnable, "json", api.StateStarted},
		{ActionDisable, "geo", api.StateDisabled},
		{ActionStop, "geo", api.StateStopped},
	}
	for _, tt := range tests {
		if _, err := do(t, client, Request{Action: tt.action, Plugin: tt.plugin}); err != nil {
			t.Fatalf("%s %s error = %v", tt.action, tt.plugin, err)
		}
		if got := plugins.state(tt.plugin); got != tt.want {
			t.Errorf("after %s: state = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestServerErrors(t *testing.T) {
	_, client := startServer(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown plugin", Request{Action: ActionEnable, Plugin: "missing"}},
		{"missing plugin id", Request{Action: ActionDisable}},
		{"unknown action", Request{Action: "restart"}},
		{"unknown category", Request{Action: ActionHooks, Category: "widgets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := do(t, client, tt.req)
			if err == nil || resp.OK {
				t.Errorf("response = %+v, want an error", resp)
			}
		})
	}

	// the connection stays usable after failed requests
	if _, err := do(t, client, Request{Action: ActionList}); err != nil {
		t.Errorf("list after errors: %v", err)
	}
}

func TestServerFolderAndHooks(t *testing.T) {
	_, client := startServer(t)

	resp, err := do(t, client, Request{Action: ActionFolder})
	if err != nil || resp.Folder != "/tmp/plugins" {
		t.Errorf("folder = %q, %v", resp.Folder, err)
	}

	resp, err = do(t, client, Request{Action: ActionHooks, Category: string(api.CapabilityMessageValidator), Topic: "sensors/+"})
	if err != nil {
		t.Fatalf("hooks error = %v", err)
	}
	if len(resp.Hooks) != 1 || resp.Hooks[0].Plugin != "json" || resp.Hooks[0].Extension != "schema" {
		t.Errorf("hooks = %+v", resp.Hooks)
	}
}

func TestServerInvalidJSON(t *testing.T) {
	path := socketPath(t)
	server := NewServer(path, &fakePlugins{}, fakeHooks{}, api.FromZap(zap.NewNop()))
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("{not json\n")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if got := string(buf[:n]); got == "" || got[0] != '{' {
		t.Errorf("response = %q, want a JSON error", got)
	}
}

func TestServerStopRemovesSocket(t *testing.T) {
	path := socketPath(t)
	server := NewServer(path, &fakePlugins{}, fakeHooks{}, api.FromZap(zap.NewNop()))
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	if err := server.Stop(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket still present: %v", err)
	}
}
