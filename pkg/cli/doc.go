// Package cli provides the terminal helpers shared by the phonecall
// commands.
//
// This package includes:
//   - Output formatting (YAML, JSON, table, raw)
//   - Styled tables for persona and call listings
//   - Request file loading (YAML/JSON)
//   - Default file locations
//
// Example usage:
//
//	cli.Output(records, cli.OutputOptions{
//	    Format: cli.FormatTable,
//	    Table:  callsTable(records),
//	})
package cli
