package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/correomqtt/pluginhost/core/control"
	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and control loaded plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded plugins and their state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(control.Request{Action: control.ActionList})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tSTATE\tPATH")
		for _, p := range resp.Plugins {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.Version, p.State, p.Path)
		}
		return w.Flush()
	},
}

var pluginsFolderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Print the plugin folder, creating it if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(control.Request{Action: control.ActionFolder})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Folder)
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsFolderCmd)
	pluginsCmd.AddCommand(lifecycleCmd(control.ActionEnable, "Enable a disabled plugin"))
	pluginsCmd.AddCommand(lifecycleCmd(control.ActionDisable, "Disable a plugin without stopping it"))
	pluginsCmd.AddCommand(lifecycleCmd(control.ActionStop, "Stop a plugin"))
}

func lifecycleCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <plugin-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := request(control.Request{Action: action, Plugin: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], action)
			return nil
		},
	}
}
