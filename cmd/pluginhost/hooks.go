package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/control"
	"github.com/spf13/cobra"
)

var hooksTopic string

var hooksCmd = &cobra.Command{
	Use:       "hooks <category>",
	Short:     "List the resolved hooks of a category",
	Long:      "Resolve the configured references of a hook category on the running host and list the extensions that would be called.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: categories(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !api.Capability(args[0]).Valid() {
			return fmt.Errorf("unknown category %q (valid: %v)", args[0], categories())
		}

		resp, err := request(control.Request{Action: control.ActionHooks, Category: args[0], Topic: hooksTopic})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PLUGIN\tEXTENSION")
		for _, h := range resp.Hooks {
			fmt.Fprintf(w, "%s\t%s\n", h.Plugin, h.Extension)
		}
		return w.Flush()
	},
}

func init() {
	hooksCmd.Flags().StringVar(&hooksTopic, "topic", "", "validator topic (message_validator only)")
}

func categories() []string {
	var result []string
	for _, c := range api.Capabilities() {
		result = append(result, string(c))
	}
	return result
}
