package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/phonecall/cmd/phonecall/internal/build"
	"github.com/haivivi/phonecall/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatOutput == string(cli.FormatTable) {
			return cli.Output(build.String()+"\n", cli.OutputOptions{Format: cli.FormatRaw})
		}
		return output(build.Get(), nil)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
