package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/cli"
	"github.com/haivivi/phonecall/pkg/twilio"
)

var (
	flagDialFile    string
	flagDialUser    string
	flagDialPersona string
	flagDialParams  map[string]string
)

var dialCmd = &cobra.Command{
	Use:   "dial [phone-number]",
	Short: "Place an outbound call",
	Long: `Place an outbound call whose audio is streamed to this server.

The request may come from a YAML or JSON file ("-" for stdin):

  target_phone_number: "+15550100"
  params:
    user_id: u1
    bot_id: coach

Flags override the file.

Examples:
  phonecall dial +15550100 --user u1 --persona coach
  phonecall dial -f request.yaml --param goals='["sleep more"]'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringVarP(&flagDialFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	dialCmd.Flags().StringVar(&flagDialUser, "user", "", "user id (user_id param)")
	dialCmd.Flags().StringVar(&flagDialPersona, "persona", "", "persona id (bot_id param)")
	dialCmd.Flags().StringToStringVar(&flagDialParams, "param", nil, "extra stream parameter key=value (repeatable)")
	rootCmd.AddCommand(dialCmd)
}

func runDial(cmd *cobra.Command, args []string) error {
	req, err := dialRequest(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateDispatch(); err != nil {
		return err
	}
	d, err := newDispatcher(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sid, err := d.Dial(ctx, req)
	if err != nil {
		return err
	}

	resp := twilio.DispatchResponse{CallID: sid}
	if formatOutput == string(cli.FormatTable) {
		cli.PrintSuccess("calling %s (call %s)", req.TargetPhoneNumber, sid)
		return nil
	}
	return output(resp, nil)
}

func dialRequest(args []string) (twilio.DispatchRequest, error) {
	var req twilio.DispatchRequest
	if flagDialFile != "" {
		if err := cli.LoadRequest(flagDialFile, &req); err != nil {
			return req, err
		}
	}
	if len(args) == 1 {
		req.TargetPhoneNumber = args[0]
	}
	if req.Params == nil {
		req.Params = make(map[string]string)
	}
	for k, v := range flagDialParams {
		req.Params[k] = v
	}
	if flagDialUser != "" {
		req.Params[call.ParamUserID] = flagDialUser
	}
	if flagDialPersona != "" {
		req.Params[call.ParamPersonaID] = flagDialPersona
	}
	if req.TargetPhoneNumber == "" {
		return req, fmt.Errorf("phone number is required")
	}
	return req, nil
}
