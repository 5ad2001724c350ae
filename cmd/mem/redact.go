package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var redactCmd = &cobra.Command{
	Use:     "redact <seq>",
	GroupID: "memory",
	Short:   "Destroy an entry's payload, keeping its chain position",
	Long: `Append a redaction entry naming the target and overwrite the
target's payload blob with a sentinel. The target's signed header
stays on the chain and continues to verify; only the payload bytes
are destroyed. There is no way to undo a redaction.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fail(types.NewError(types.ErrInvalidInput, "bad seq %q", args[0]))
		}

		c := openChain(context.Background())
		defer c.Close()

		result, err := c.Redact(context.Background(), seq, reason)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(result)
			return
		}
		fmt.Printf("Redacted seq %d (redaction entry at seq %d)\n", seq, result.Seq)
	},
}

func init() {
	redactCmd.Flags().String("reason", "", "why the payload is being destroyed")
	rootCmd.AddCommand(redactCmd)
}
