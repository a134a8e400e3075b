// Package main is the entry point for the phonecall CLI.
//
// Usage:
//
//	phonecall [flags] <command> [subcommand] [args]
//
// Commands:
//
//	serve      - Accept Twilio media streams and run the voice agent
//	dial       - Place an outbound call
//	personas   - List and show configured personas
//	calls      - List and show finished calls
//	version    - Show version information
package main

import (
	"os"

	"github.com/haivivi/phonecall/cmd/phonecall/commands"
	"github.com/haivivi/phonecall/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
