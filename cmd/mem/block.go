package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var blockSetCmd = &cobra.Command{
	Use:     "block-set <label> <content>",
	GroupID: "memory",
	Short:   "Set a new version of a persistent context block",
	Long: `Append a new version of a labeled block (persona, user_profile,
goals, knowledge). The previous version is linked as the predecessor
and marked superseded; block-latest always points at the newest
version.

Examples:
  mem block-set persona "I am a careful assistant"
  mem block-set goals "ship the migration this week" --no-core`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		noCore, _ := cmd.Flags().GetBool("no-core")

		c := openChain(context.Background())
		defer c.Close()

		result, err := c.BlockUpdate(context.Background(), types.BlockLabel(args[0]), args[1], !noCore)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(result)
			return
		}
		fmt.Printf("Block %q is now version %d at seq %d\n", args[0], result.Version, result.Seq)
	},
}

func init() {
	blockSetCmd.Flags().Bool("no-core", false, "do not mark the block as core memory")
	rootCmd.AddCommand(blockSetCmd)
}
