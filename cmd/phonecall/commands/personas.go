package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List and show configured personas",
}

var personasListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the personas in the persona directory",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, err := loadDescriptors()
		if err != nil {
			return err
		}
		tbl := &cli.Table{Headers: []string{"ID", "VOICE", "PROMPT", "KNOWLEDGE"}}
		for _, d := range descs {
			tbl.Rows = append(tbl.Rows, []string{
				d.ID,
				string(d.Voice),
				promptSummary(d),
				strconv.Itoa(len(d.Knowledge)),
			})
		}
		return output(descs, tbl)
	},
}

var personasShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one persona with its system prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, err := loadDescriptors()
		if err != nil {
			return err
		}
		for _, d := range descs {
			if d.ID != args[0] {
				continue
			}
			return output(d, nil)
		}
		return fmt.Errorf("persona %q not found", args[0])
	},
}

func init() {
	personasCmd.AddCommand(personasListCmd, personasShowCmd)
	rootCmd.AddCommand(personasCmd)
}

func loadDescriptors() ([]*persona.Descriptor, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return persona.LoadDir(cfg.Personas)
}

func promptSummary(d *persona.Descriptor) string {
	return cli.Truncate(strings.Join(strings.Fields(d.SystemPrompt), " "), 40)
}
