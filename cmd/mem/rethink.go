package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
)

var rethinkCmd = &cobra.Command{
	Use:     "rethink <content>",
	GroupID: "memory",
	Short:   "Consolidate earlier entries under a new understanding",
	Long: `Append a consolidation entry that supersedes the listed seqs. The
superseded entries stay on the chain, signatures intact, but drop out
of default recall; the consolidation becomes the retrieval frontier.

Examples:
  mem rethink --supersedes 0,1,2 "A, B and C were all one incident"
  mem rethink --supersedes 7 --reason "duplicate" "canonical version"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		supersedesRaw, _ := cmd.Flags().GetString("supersedes")
		reason, _ := cmd.Flags().GetString("reason")

		supersedes, err := parseSeqList(supersedesRaw)
		if err != nil {
			fail(err)
		}

		c := openChain(context.Background())
		defer c.Close()

		result, err := c.Rethink(context.Background(), supersedes, args[0], reason)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(result)
			return
		}
		fmt.Printf("Consolidated %d entries into seq %d\n", result.SupersededCount, result.ConsolidationSeq)
	},
}

func init() {
	rethinkCmd.Flags().String("supersedes", "", "comma-separated seqs to supersede (required)")
	rethinkCmd.MarkFlagRequired("supersedes")
	rethinkCmd.Flags().String("reason", "", "why these entries are being consolidated")
	rootCmd.AddCommand(rethinkCmd)
}
