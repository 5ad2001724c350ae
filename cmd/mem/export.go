package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/chain"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "setup",
	Short:   "Stream all entries to stdout",
	Long: `Export the full chain. JSON emits one record per line (entry plus
payload); markdown renders a human-readable document.

Examples:
  mem export --format json > chain-backup.jsonl
  mem export --format markdown > memories.md`,
	Run: func(cmd *cobra.Command, _ []string) {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "markdown" {
			fail(types.NewError(types.ErrInvalidInput, "unknown format %q", format))
		}

		c := openChain(context.Background())
		defer c.Close()

		if err := c.Export(context.Background(), os.Stdout, chain.ExportFormat(format)); err != nil {
			fail(err)
		}
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "output format (json, markdown)")
	rootCmd.AddCommand(exportCmd)
}
