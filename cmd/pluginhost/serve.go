package main

import (
	"github.com/correomqtt/pluginhost/core"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the plugin host",
	Long:  "Load and start every plugin in the plugin directory, watch the configuration and serve the control socket until SIGINT or SIGTERM.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, err := core.NewHost(cfgFile)
		if err != nil {
			return err
		}
		return host.Start()
	},
}
