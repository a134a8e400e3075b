package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept Twilio media streams and run the voice agent",
	Long: `Accept Twilio media streams and run the voice agent.

Routes:
  GET  /call       Twilio media stream (WebSocket)
  POST /dispatch   place an outbound call (when twilio is configured)
  GET  /healthz    liveness and active call count

Each call must carry the user_id and bot_id custom parameters; bot_id
selects the persona.

Example:
  phonecall serve --listen :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagListen != "" {
		cfg.Server.Listen = flagListen
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := slog.Default()
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.srv.ListenAndServe(ctx, cfg.Server.Listen)
	logger.Info("server stopped", "active_calls", s.srv.Active())
	return err
}
