package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/config"
	"github.com/correomqtt/pluginhost/core/control"
	"github.com/correomqtt/pluginhost/core/eventbus"
	"github.com/correomqtt/pluginhost/core/extension"
	"github.com/correomqtt/pluginhost/core/hooks"
	"github.com/correomqtt/pluginhost/core/inject"
	"github.com/correomqtt/pluginhost/core/plugin"
	"go.uber.org/zap"
)

// Host is the process-scoped plugin host. It owns the extension registry and
// the plugin manager and hands both to the hook aggregator and the control
// socket.
type Host struct {
	store      *config.Store
	logger     api.Logger
	eventBus   *eventbus.EventBus
	watcher    *config.Watcher
	registry   *extension.Registry
	manager    *plugin.Manager
	resolver   *extension.Resolver
	injector   *inject.Injector
	aggregator *hooks.Aggregator
	control    *control.Server
	ready      chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHost loads the configuration file and creates a host
func NewHost(configPath string) (*Host, error) {
	store, err := config.NewStore(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return New(store)
}

// New creates a host around an existing configuration store
func New(store *config.Store) (*Host, error) {
	cfg := store.Config()

	base, err := api.NewZapLogger(cfg.Core.LogLevel, cfg.Core.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zap.ReplaceGlobals(base)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		store:  store,
		logger: api.NewLogger("core"),
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	h.eventBus = eventbus.NewEventBus(api.NewLogger("eventbus"))
	h.registry = extension.NewRegistry(api.NewLogger("extension"))
	h.manager = plugin.NewManager(plugin.ManagerConfig{
		PluginDir: cfg.Core.PluginDir,
		IsEnabled: func(pluginID string) bool {
			return h.store.Config().IsPluginEnabled(pluginID)
		},
	}, h.registry, h, h.eventBus, api.NewLogger("plugin"))
	h.resolver = extension.NewResolver(h.registry, h.manager, api.NewLogger("resolver"))
	h.injector = inject.NewInjector(api.NewLogger("inject"))

	var opts []hooks.Option
	if cfg.CacheHooksEnabled() {
		opts = append(opts, hooks.WithCache(h.manager, h.registry))
	}
	h.aggregator = hooks.NewAggregator(store, h.resolver, h.injector, api.NewLogger("hooks"), opts...)

	if cfg.WatchEnabled() && store.Path() != "" {
		h.watcher, err = config.NewWatcher(store, api.NewLogger("config"), h.configReloaded)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	if cfg.Core.SocketPath != "" {
		h.control = control.NewServer(cfg.Core.SocketPath, h.manager, h.aggregator, api.NewLogger("control"))
	}

	return h, nil
}

// Start runs the host until a shutdown signal arrives or Shutdown is
// called. A plugin that fails to load or start aborts startup with an error
// wrapping plugin.ErrPluginLoadFailed.
func (h *Host) Start() error {
	h.logger.Info("Starting plugin host")
	defer h.eventBus.Close()

	// Check and create PID file
	if err := h.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer h.removePIDFile()

	if h.watcher != nil {
		if err := h.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start config watcher: %w", err)
		}
		defer h.watcher.Stop()
	}

	// Shutdown order: stop every plugin, then unload them
	defer h.manager.UnloadAll()
	defer h.manager.StopAll()

	if err := h.manager.LoadAll(); err != nil {
		return err
	}
	if err := h.manager.StartAll(); err != nil {
		return err
	}

	if h.control != nil {
		if err := h.control.Start(); err != nil {
			return fmt.Errorf("failed to start control socket: %w", err)
		}
		defer h.control.Stop()
	}

	h.logger.Info("Plugin host started", "plugins", h.manager.Count(), "extensions", h.registry.Count())
	close(h.ready)

	h.waitForShutdown()

	h.logger.Info("Plugin host shutting down")
	return nil
}

// Ready is closed once all plugins are started
func (h *Host) Ready() <-chan struct{} {
	return h.ready
}

// Shutdown makes Start return
func (h *Host) Shutdown() {
	h.cancel()
}

// Hooks returns the hook aggregator
func (h *Host) Hooks() *hooks.Aggregator {
	return h.aggregator
}

// Plugins returns the plugin lifecycle facade
func (h *Host) Plugins() *plugin.Manager {
	return h.manager
}

// Config returns the configuration store
func (h *Host) Config() *config.Store {
	return h.store
}

func (h *Host) configReloaded(cfg *config.Config) {
	if err := h.eventBus.EmitEvent(api.Event{
		Source:    "config",
		Type:      api.EventConfigReloaded,
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"path":       h.store.Path(),
			"generation": h.store.Generation(),
			"sources":    strings.Join(cfg.Sources(), ","),
		},
	}); err != nil {
		h.logger.Error("Failed to emit config reload event", "error", err)
	}
}

// createPIDFile creates a PID file
func (h *Host) createPIDFile() error {
	pidFile := h.store.Config().Core.PIDFile
	if pidFile == "" {
		return nil
	}

	// Check if PID file already exists
	if data, err := os.ReadFile(pidFile); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			// Check if process is running
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("host is already running with PID %d", pid)
				}
			}
		}
	}

	// Write current PID
	pid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	h.logger.Debug("Created PID file", "path", pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file
func (h *Host) removePIDFile() {
	pidFile := h.store.Config().Core.PIDFile
	if pidFile == "" {
		return
	}
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		h.logger.Error("Failed to remove PID file", "path", pidFile, "error", err)
	}
}

// waitForShutdown waits for a shutdown signal
func (h *Host) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		h.logger.Info("Received shutdown signal", "signal", sig)
	case <-h.ctx.Done():
		h.logger.Info("Context cancelled")
	}

	h.cancel()
}

// CoreAPI implementation

// RegisterExtension may be called from a plugin's Initialize. Plugins reach
// it through the manager, which binds pluginID to the calling plugin.
func (h *Host) RegisterExtension(pluginID string, definition api.ExtensionDefinition) error {
	return h.registry.Register(pluginID, definition)
}

func (h *Host) EmitEvent(event api.Event) error {
	return h.eventBus.EmitEvent(event)
}

func (h *Host) SubscribeToEvents(filter api.EventFilter, handler api.EventHandler) error {
	return h.eventBus.SubscribeToEvents(filter, handler)
}

func (h *Host) GetLogger(prefix string) api.Logger {
	return api.NewLogger(prefix)
}
