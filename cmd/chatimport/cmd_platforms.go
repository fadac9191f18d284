package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"chatimport/internal/platform"

	"github.com/spf13/cobra"
)

var platformsFormat string

// platformsCmd lists the platforms share links can come from
var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := platform.Supported()
		switch platformsFormat {
		case "json", "yaml":
			return encode(cmd.OutOrStdout(), platformsFormat, infos)
		case "text":
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHOSTS")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.Name, strings.Join(info.Hosts, ", "))
			}
			return tw.Flush()
		default:
			return fmt.Errorf("unsupported format %q (valid: text, json, yaml)", platformsFormat)
		}
	},
}

func init() {
	platformsCmd.Flags().StringVarP(&platformsFormat, "format", "f", "text", "Output format: text, json or yaml")
}
