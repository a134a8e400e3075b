package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haivivi/phonecall/pkg/callstore"
	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/kv"
)

var flagCallsUser string

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List and show finished calls",
	Long: `List and show finished calls.

Calls are read from the configured store, falling back to the transcript
archive for calls the store no longer has. A Badger store can only be opened
by one process, so stop the server or point --config at a copy first.`,
}

var callsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List finished calls",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCalls(func(ctx context.Context, calls *callstore.Store) error {
			records, err := calls.List(ctx, flagCallsUser)
			if err != nil {
				return err
			}
			tbl := &cli.Table{Headers: []string{"CALL", "USER", "PERSONA", "STARTED", "DURATION", "TURNS"}}
			for _, r := range records {
				tbl.Rows = append(tbl.Rows, []string{
					r.CallID,
					r.UserID,
					r.PersonaID,
					cli.FormatTime(r.StartedAt),
					cli.FormatDuration(r.Duration()),
					fmt.Sprint(len(r.History)),
				})
			}
			return output(records, tbl)
		})
	},
}

var callsShowCmd = &cobra.Command{
	Use:   "show <user-id> <call-id>",
	Short: "Show one call with its transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCalls(func(ctx context.Context, calls *callstore.Store) error {
			r, err := calls.Get(ctx, args[0], args[1])
			if errors.Is(err, kv.ErrNotFound) {
				return fmt.Errorf("call %s of user %s not found", args[1], args[0])
			}
			if err != nil {
				return err
			}
			tbl := &cli.Table{Headers: []string{"AT", "ROLE", "TEXT"}, MaxCellWidth: 100}
			for _, t := range r.History {
				tbl.Rows = append(tbl.Rows, []string{cli.FormatTime(t.At), string(t.Role), t.Text})
			}
			return output(r, tbl)
		})
	},
}

func init() {
	callsListCmd.Flags().StringVar(&flagCallsUser, "user", "", "only calls of this user")
	callsCmd.AddCommand(callsListCmd, callsShowCmd)
	rootCmd.AddCommand(callsCmd)
}

// withCalls opens the call store for the duration of fn.
func withCalls(fn func(ctx context.Context, calls *callstore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()
	archive, err := openArchive(cfg)
	if err != nil {
		return err
	}
	return fn(context.Background(), callstore.New(store, archive))
}
