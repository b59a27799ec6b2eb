package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/extension"
	"github.com/correomqtt/pluginhost/core/plugin"
)

// Plugins is the lifecycle facade served over the socket
type Plugins interface {
	List() []plugin.PluginInfo
	Enable(id string) error
	Disable(id string) error
	Stop(id string) error
	PluginFolder() (string, error)
}

// Hooks lists the resolved extensions of a category. Listing must not
// reconfigure the extensions.
type Hooks interface {
	PreviewHooks(capability api.Capability, topic string) []extension.Handle
}

// Server answers control requests on a unix domain socket
type Server struct {
	socketPath string
	plugins    Plugins
	hooks      Hooks
	listener   net.Listener
	logger     api.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	conns      sync.WaitGroup
}

// NewServer creates a control server
func NewServer(socketPath string, plugins Plugins, hooks Hooks, logger api.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		plugins:    plugins,
		hooks:      hooks,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts listening for connections
func (s *Server) Start() error {
	// Remove a stale socket left by a previous run
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}

	s.listener = listener
	s.logger.Info("Control socket started", "socket", s.socketPath)

	go s.acceptConnections()
	return nil
}

// Stop closes the listener, waits for open connections and removes the socket
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Error("Failed to close listener", "error", err)
		}
	}
	s.conns.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to remove socket file", "error", err)
	}

	s.logger.Info("Control socket stopped")
	return nil
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.conns.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	decoder := json.NewDecoder(bufio.NewReader(conn))
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && s.ctx.Err() == nil {
				s.logger.Error("Failed to decode control request", "error", err)
				_ = encoder.Encode(Response{Error: fmt.Sprintf("invalid request: %v", err)})
			}
			return
		}

		if err := encoder.Encode(s.handle(req)); err != nil {
			s.logger.Error("Failed to write control response", "error", err)
			return
		}
	}
}

// handle executes a single request
func (s *Server) handle(req Request) Response {
	s.logger.Debug("Control request", "id", req.ID, "action", req.Action, "plugin", req.Plugin)
	resp := Response{ID: req.ID}

	var err error
	switch req.Action {
	case ActionList:
		resp.Plugins = s.plugins.List()
	case ActionEnable:
		err = s.withPlugin(req, s.plugins.Enable)
	case ActionDisable:
		err = s.withPlugin(req, s.plugins.Disable)
	case ActionStop:
		err = s.withPlugin(req, s.plugins.Stop)
	case ActionFolder:
		resp.Folder, err = s.plugins.PluginFolder()
	case ActionHooks:
		resp.Hooks, err = s.listHooks(req)
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}

	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	return resp
}

func (s *Server) withPlugin(req Request, op func(id string) error) error {
	if req.Plugin == "" {
		return fmt.Errorf("%s requires a plugin id", req.Action)
	}
	return op(req.Plugin)
}

func (s *Server) listHooks(req Request) ([]HookInfo, error) {
	capability := api.Capability(req.Category)
	if !capability.Valid() {
		return nil, fmt.Errorf("unknown category %q", req.Category)
	}

	handles := s.hooks.PreviewHooks(capability, req.Topic)
	result := make([]HookInfo, 0, len(handles))
	for _, handle := range handles {
		result = append(result, HookInfo{
			Plugin:     handle.PluginID,
			Extension:  handle.ID,
			Capability: string(handle.Capability),
		})
	}
	return result, nil
}
