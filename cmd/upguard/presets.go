package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prilive-com/upguard/config"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in upstream presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tBASE URL\tAUTH\tRATE LIMIT\tSTREAM")
		for _, name := range config.PresetNames() {
			p, _ := config.LookupPreset(name)
			c := p.Config
			stream := "-"
			if c.Stream != nil {
				stream = c.Stream.URL
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%s\t%s\n",
				name, c.BaseURL, c.Auth.Type, c.RateLimit.Max, c.RateLimit.Window, stream)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
