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

var introspectCmd = &cobra.Command{
	Use:     "introspect <seq>",
	GroupID: "setup",
	Short:   "Show everything known about one entry",
	Long: `Read-only composite view of an entry: the signed record, its
payload, provenance, supersession edges and anchor receipts. Performs
no access touches.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fail(types.NewError(types.ErrInvalidInput, "bad seq %q", args[0]))
		}

		c := openChain(context.Background())
		defer c.Close()

		info, err := c.Introspect(context.Background(), seq)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(info)
			return
		}
		e := info.Entry
		fmt.Printf("seq:          %d\n", e.Seq)
		fmt.Printf("kind:         %s\n", e.Kind)
		fmt.Printf("tier:         %s\n", e.Tier)
		fmt.Printf("created:      %s\n", e.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("source:       %s\n", info.Source)
		if info.Trigger != "" {
			fmt.Printf("trigger:      %s\n", info.Trigger)
		}
		fmt.Printf("importance:   %.2f\n", e.Provenance.Importance)
		fmt.Printf("content_hash: %s\n", e.ContentHash)
		if len(info.Supersedes) > 0 {
			fmt.Printf("supersedes:   %v\n", info.Supersedes)
		}
		if info.SupersededBy != nil {
			fmt.Printf("superseded_by: %d\n", *info.SupersededBy)
		}
		for _, r := range info.Receipts {
			fmt.Printf("anchor:       %s %s (submitted %s)\n", r.Provider, r.Status, r.SubmittedAt.Format("2006-01-02"))
		}
		fmt.Printf("\n%s\n", info.Content)
	},
}

func init() {
	rootCmd.AddCommand(introspectCmd)
}
