package main

import (
	"context"
	"fmt"
	"time"

	"github.com/correomqtt/pluginhost/core/config"
	"github.com/correomqtt/pluginhost/core/control"
	"github.com/spf13/cobra"
)

const (
	appVersion    = "1.0.0"
	repositoryURL = "https://github.com/correomqtt/pluginhost"
)

var (
	cfgFile    string
	socketPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "pluginhost",
	Short:        "Plugin host for the CorreoMQTT client",
	Long:         "pluginhost loads MQTT client plugins, resolves their configured hooks and serves the plugin settings over a control socket.",
	SilenceUsage: true,
	Version:      appVersion,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/pluginhost/config.toml", "configuration file (TOML or YAML)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (default: core.socket_path from the config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "control request timeout")
	rootCmd.SetVersionTemplate(fmt.Sprintf("pluginhost {{.Version}}\nRepository: %s\n", repositoryURL))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pluginhost %s\nRepository: %s\n", appVersion, repositoryURL)
	},
}

// resolveSocket picks the --socket flag, falling back to the configured path
func resolveSocket() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return "", fmt.Errorf("no --socket given and config could not be read: %w", err)
	}
	if cfg.Core.SocketPath == "" {
		return "", fmt.Errorf("no control socket configured")
	}
	return cfg.Core.SocketPath, nil
}

// request sends one control request to the running host
func request(req control.Request) (control.Response, error) {
	path, err := resolveSocket()
	if err != nil {
		return control.Response{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := control.Dial(ctx, path)
	if err != nil {
		return control.Response{}, err
	}
	defer client.Close()

	return client.Do(ctx, req)
}
