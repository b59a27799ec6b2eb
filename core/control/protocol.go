// Package control exposes the plugin lifecycle facade on a unix socket.
// Requests and responses are newline-delimited JSON objects.
package control

import (
	"github.com/correomqtt/pluginhost/core/plugin"
)

// Actions understood by the server
const (
	ActionList    = "list"
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionStop    = "stop"
	ActionFolder  = "folder"
	ActionHooks   = "hooks"
)

// Request is one control command
type Request struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Plugin   string `json:"plugin,omitempty"`
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// Response answers the request with the same ID
type Response struct {
	ID      string              `json:"id"`
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Plugins []plugin.PluginInfo `json:"plugins,omitempty"`
	Hooks   []HookInfo          `json:"hooks,omitempty"`
	Folder  string              `json:"folder,omitempty"`
}

// HookInfo describes one resolved extension
type HookInfo struct {
	Plugin     string `json:"plugin"`
	Extension  string `json:"extension,omitempty"`
	Capability string `json:"capability"`
}
