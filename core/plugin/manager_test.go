package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/extension"
	"go.uber.org/zap"
)

type labelHook struct{}

func (labelHook) OnCreateEntry(_ api.Message, entry *api.MessageListEntry) { entry.AddLabel("x") }

type fakePlugin struct {
	meta        api.PluginMeta
	extensions  []api.ExtensionDefinition
	initErr     error
	onInit      func(core api.CoreAPI)
	initialized int
	shutdowns   int
}

func (p *fakePlugin) Meta() api.PluginMeta { return p.meta }

func (p *fakePlugin) Initialize(core api.CoreAPI) error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.onInit != nil {
		p.onInit(core)
	}
	p.initialized++
	return nil
}

func (p *fakePlugin) Shutdown() error {
	p.shutdowns++
	return nil
}

func (p *fakePlugin) RegisterExtensions() []api.ExtensionDefinition { return p.extensions }

func newFakePlugin(id string) *fakePlugin {
	return &fakePlugin{
		meta: api.PluginMeta{ID: id, DisplayName: id, Version: "1.0.0", APIVersion: api.APIVersionCurrent},
		extensions: []api.ExtensionDefinition{
			{Capability: api.CapabilityMessageList, ID: "tag", Extension: labelHook{}},
		},
	}
}

// mapOpener serves plugins by file name
type mapOpener map[string]api.Plugin

func (o mapOpener) Open(path string) (api.Plugin, error) {
	p, ok := o[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not a plugin")
	}
	return p, nil
}

type recorder struct {
	mu     sync.Mutex
	events []api.Event
}

func (r *recorder) EmitEvent(event api.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func newManager(t *testing.T, cfg ManagerConfig) (*Manager, *extension.Registry, *recorder) {
	t.Helper()
	logger := api.FromZap(zap.NewNop())
	registry := extension.NewRegistry(logger)
	events := &recorder{}
	return NewManager(cfg, registry, nil, events, logger), registry, events
}

func wantState(t *testing.T, m *Manager, id string, want api.PluginState) {
	t.Helper()
	got, ok := m.PluginState(id)
	if !ok {
		t.Fatalf("plugin %s not loaded", id)
	}
	if got != want {
		t.Fatalf("state(%s) = %s, want %s", id, got, want)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m, registry, events := newManager(t, ManagerConfig{})
	p := newFakePlugin("geo")

	if err := m.Register(p, "geo.so"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	wantState(t, m, "geo", api.StateResolved)
	if registry.Count() != 0 {
		t.Errorf("extensions registered before start")
	}

	if err := m.Start("geo"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	wantState(t, m, "geo", api.StateStarted)
	if p.initialized != 1 || registry.Count() != 1 {
		t.Errorf("initialized = %d, extensions = %d", p.initialized, registry.Count())
	}

	if err := m.Disable("geo"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	wantState(t, m, "geo", api.StateDisabled)

	if err := m.Enable("geo"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	wantState(t, m, "geo", api.StateStarted)
	if p.initialized != 1 || registry.Count() != 1 {
		t.Errorf("re-enable initialized again: initialized = %d, extensions = %d", p.initialized, registry.Count())
	}

	if err := m.Stop("geo"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	wantState(t, m, "geo", api.StateStopped)
	if p.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", p.shutdowns)
	}

	if err := m.Unload("geo"); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if _, ok := m.PluginState("geo"); ok {
		t.Error("plugin still known after unload")
	}
	if registry.Count() != 0 {
		t.Errorf("extensions left after unload: %d", registry.Count())
	}

	want := []string{
		api.EventPluginLoaded, api.EventPluginStarted, api.EventPluginDisabled,
		api.EventPluginEnabled, api.EventPluginStopped, api.EventPluginUnloaded,
	}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManagerInvalidTransitions(t *testing.T) {
	m, _, _ := newManager(t, ManagerConfig{})
	if err := m.Register(newFakePlugin("geo"), "geo.so"); err != nil {
		t.Fatal(err)
	}

	if err := m.Stop("geo"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop(resolved) error = %v, want ErrInvalidTransition", err)
	}
	if err := m.Start("geo"); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop("geo"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("geo"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start(stopped) error = %v, want ErrInvalidTransition", err)
	}
	if err := m.Enable("geo"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Enable(stopped) error = %v, want ErrInvalidTransition", err)
	}
	if err := m.Disable("missing"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Disable(missing) error = %v, want ErrPluginNotFound", err)
	}
}

func TestManagerRepeatedTransitionIsNoop(t *testing.T) {
	m, _, events := newManager(t, ManagerConfig{})
	if err := m.Register(newFakePlugin("geo"), "geo.so"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("geo"); err != nil {
		t.Fatal(err)
	}
	generation := m.Generation()

	if err := m.Start("geo"); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if err := m.Enable("geo"); err != nil {
		t.Errorf("Enable(started) error = %v", err)
	}
	if m.Generation() != generation {
		t.Error("generation changed without a state change")
	}
	if n := len(events.types()); n != 2 {
		t.Errorf("events = %v, want loaded and started only", events.types())
	}
}

func TestManagerRegisterDuplicate(t *testing.T) {
	m, _, _ := newManager(t, ManagerConfig{})
	if err := m.Register(newFakePlugin("geo"), "a.so"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newFakePlugin("geo"), "b.so"); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("Register(duplicate) error = %v, want ErrAlreadyLoaded", err)
	}
	if err := m.Register(newFakePlugin(""), "c.so"); err == nil {
		t.Error("Register(empty id) succeeded")
	}
}

func TestManagerConfigDisabled(t *testing.T) {
	m, registry, _ := newManager(t, ManagerConfig{
		IsEnabled: func(id string) bool { return id != "off" },
	})
	if err := m.Register(newFakePlugin("on"), "on.so"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newFakePlugin("off"), "off.so"); err != nil {
		t.Fatal(err)
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	wantState(t, m, "on", api.StateStarted)
	wantState(t, m, "off", api.StateDisabled)
	if len(registry.Extensions(api.CapabilityMessageList, "off")) != 0 {
		t.Error("disabled plugin registered extensions")
	}

	if err := m.Enable("off"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	wantState(t, m, "off", api.StateStarted)
	if len(registry.Extensions(api.CapabilityMessageList, "off")) != 1 {
		t.Error("enabled plugin did not register its extensions")
	}
}

func TestManagerIncompatibleAPIVersion(t *testing.T) {
	m, registry, events := newManager(t, ManagerConfig{})
	p := newFakePlugin("old")
	p.meta.APIVersion = api.APIVersionCurrent + 1

	if err := m.Register(p, "old.so"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	wantState(t, m, "old", api.StateDisabled)

	got := events.types()
	if len(got) != 2 || got[1] != api.EventPluginUpdateFailed {
		t.Errorf("events = %v, want loaded then %s", got, api.EventPluginUpdateFailed)
	}
	if err := m.StartAll(); err != nil {
		t.Errorf("StartAll() error = %v", err)
	}
	wantState(t, m, "old", api.StateDisabled)

	if err := m.Enable("old"); !errors.Is(err, ErrIncompatibleAPIVersion) {
		t.Errorf("Enable() error = %v, want ErrIncompatibleAPIVersion", err)
	}
	if err := m.Start("old"); err == nil {
		t.Error("Start() succeeded for an incompatible plugin")
	}
	wantState(t, m, "old", api.StateDisabled)
	if p.initialized != 0 || registry.Count() != 0 {
		t.Errorf("incompatible plugin activated: initialized = %d, extensions = %d", p.initialized, registry.Count())
	}
	if n := len(events.types()); n != 2 {
		t.Errorf("events = %v, want no events after refused enable", events.types())
	}
}

// hostCore forwards extension registration to a registry
type hostCore struct {
	registry *extension.Registry
}

func (c hostCore) RegisterExtension(pluginID string, definition api.ExtensionDefinition) error {
	return c.registry.Register(pluginID, definition)
}
func (hostCore) EmitEvent(api.Event) error                                 { return nil }
func (hostCore) SubscribeToEvents(api.EventFilter, api.EventHandler) error { return nil }
func (hostCore) GetLogger(string) api.Logger                               { return api.FromZap(zap.NewNop()) }

func TestManagerBindsExtensionsToOwnPlugin(t *testing.T) {
	logger := api.FromZap(zap.NewNop())
	registry := extension.NewRegistry(logger)
	m := NewManager(ManagerConfig{}, registry, hostCore{registry: registry}, nil, logger)

	var foreignErr, ownErr error
	p := newFakePlugin("geo")
	p.onInit = func(core api.CoreAPI) {
		foreignErr = core.RegisterExtension("json", api.ExtensionDefinition{
			Capability: api.CapabilityMessageList, ID: "spoof", Extension: labelHook{},
		})
		ownErr = core.RegisterExtension("geo", api.ExtensionDefinition{
			Capability: api.CapabilityMessageList, ID: "extra", Extension: labelHook{},
		})
	}
	if err := m.Register(p, "geo.so"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("geo"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !errors.Is(foreignErr, ErrForeignPlugin) {
		t.Errorf("RegisterExtension(other plugin) error = %v, want ErrForeignPlugin", foreignErr)
	}
	if ownErr != nil {
		t.Errorf("RegisterExtension(own plugin) error = %v", ownErr)
	}
	if n := len(registry.Extensions(api.CapabilityMessageList, "json")); n != 0 {
		t.Errorf("extensions under foreign plugin = %d, want 0", n)
	}
	if n := len(registry.Extensions(api.CapabilityMessageList, "geo")); n != 2 {
		t.Errorf("extensions under own plugin = %d, want 2", n)
	}
}

func TestManagerStartFailureIsFatal(t *testing.T) {
	m, _, _ := newManager(t, ManagerConfig{})
	p := newFakePlugin("broken")
	p.initErr = errors.New("boom")
	if err := m.Register(p, "broken.so"); err != nil {
		t.Fatal(err)
	}

	err := m.StartAll()
	if !errors.Is(err, ErrPluginLoadFailed) {
		t.Fatalf("StartAll() error = %v, want ErrPluginLoadFailed", err)
	}
	wantState(t, m, "broken", api.StateResolved)
}

func TestManagerLoadAll(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.so", "b.so", "broken.so", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	m, _, _ := newManager(t, ManagerConfig{PluginDir: dir})
	m.SetOpener(mapOpener{"a.so": newFakePlugin("a"), "b.so": newFakePlugin("b")})

	err := m.LoadAll()
	if !errors.Is(err, ErrPluginLoadFailed) {
		t.Fatalf("LoadAll() error = %v, want ErrPluginLoadFailed", err)
	}

	list := m.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List() = %+v", list)
	}
	if list[0].Path != filepath.Join(dir, "a.so") || list[0].State != api.StateResolved {
		t.Errorf("List()[0] = %+v", list[0])
	}
}

func TestManagerLoadAllMissingDir(t *testing.T) {
	m, _, _ := newManager(t, ManagerConfig{PluginDir: filepath.Join(t.TempDir(), "missing")})
	if err := m.LoadAll(); err != nil {
		t.Errorf("LoadAll() error = %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d", m.Count())
	}
}

func TestManagerStopAllUnloadAll(t *testing.T) {
	m, registry, _ := newManager(t, ManagerConfig{})
	plugins := []*fakePlugin{newFakePlugin("a"), newFakePlugin("b"), newFakePlugin("c")}
	for _, p := range plugins {
		if err := m.Register(p, p.meta.ID+".so"); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.StartAll(); err != nil {
		t.Fatal(err)
	}
	if err := m.Disable("b"); err != nil {
		t.Fatal(err)
	}

	m.StopAll()
	for _, p := range plugins {
		wantState(t, m, p.meta.ID, api.StateStopped)
		if p.shutdowns != 1 {
			t.Errorf("%s shutdowns = %d, want 1", p.meta.ID, p.shutdowns)
		}
	}

	m.UnloadAll()
	if m.Count() != 0 || registry.Count() != 0 {
		t.Errorf("after UnloadAll: plugins = %d, extensions = %d", m.Count(), registry.Count())
	}
	for _, p := range plugins {
		if p.shutdowns != 1 {
			t.Errorf("%s shut down again on unload", p.meta.ID)
		}
	}
}

func TestManagerUnloadStopsStartedPlugin(t *testing.T) {
	m, _, events := newManager(t, ManagerConfig{})
	p := newFakePlugin("geo")
	if err := m.Register(p, "geo.so"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("geo"); err != nil {
		t.Fatal(err)
	}

	if err := m.Unload("geo"); err != nil {
		t.Fatal(err)
	}
	if p.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", p.shutdowns)
	}
	got := events.types()
	if got[len(got)-2] != api.EventPluginStopped || got[len(got)-1] != api.EventPluginUnloaded {
		t.Errorf("events = %v", got)
	}
	if err := m.Unload("geo"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("second Unload() error = %v, want ErrPluginNotFound", err)
	}
}

func TestManagerPluginFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plugins")
	m, _, _ := newManager(t, ManagerConfig{PluginDir: dir})

	got, err := m.PluginFolder()
	if err != nil {
		t.Fatalf("PluginFolder() error = %v", err)
	}
	if got != dir {
		t.Errorf("PluginFolder() = %s, want %s", got, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("plugin folder not created: %v", err)
	}
}
