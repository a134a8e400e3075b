package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/phonecall/cmd/phonecall/internal/config"
	"github.com/haivivi/phonecall/pkg/cli"
)

// appName names the configuration directory.
const appName = "phonecall"

var (
	// Global flags
	verbose      bool
	configPath   string
	formatOutput string
)

var rootCmd = &cobra.Command{
	Use:   "phonecall",
	Short: "Real-time voice agent for phone calls",
	Long: `phonecall - A voice agent that talks to callers over Twilio.

Twilio streams the caller's audio to 'phonecall serve', which transcribes it
with Deepgram, writes replies with an OpenAI or Gemini chat model and speaks
them with ElevenLabs. Finished calls are saved with their transcript.

Configuration is read from --config, or from the OS config directory:
  macOS:   ~/Library/Application Support/phonecall/config.yaml
  Linux:   ~/.config/phonecall/config.yaml
  Windows: %AppData%/phonecall/config.yaml
$PHONECALL_HOME overrides the directory.

Examples:
  # Serve media streams
  phonecall serve

  # Call someone with the coach persona
  phonecall dial +15550100 --user u1 --persona coach

  # Review finished calls
  phonecall calls list --user u1`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.ParseFormat(formatOutput); err != nil {
			return err
		}
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default is config.yaml in the app directory)")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "format", "o", "table", "output format (table, yaml, json)")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads the file named by --config, or the default one.
func loadConfig() (*config.Config, error) {
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return nil, fmt.Errorf("config not available: %w", err)
	}
	return config.Load(configPath, paths)
}

// output prints result in the --format format; table is its table view.
func output(result any, table *cli.Table) error {
	f, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{Format: f, Table: table})
}
