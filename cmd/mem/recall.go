package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
	"github.com/SeMmyT/openclaw-memory-chain/internal/ui"
)

var recallCmd = &cobra.Command{
	Use:     "recall <query>",
	GroupID: "memory",
	Short:   "Retrieve ranked memories for a query",
	Long: `Search the index and return ranked, token-budgeted matches. Each
returned entry's access counters are touched, which reheats its decay
tier.

Examples:
  mem recall "dark mode"
  mem recall "conference" --max-results 5 --tier committed
  mem recall "old plan" --include-superseded`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxResults, _ := cmd.Flags().GetInt("max-results")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		includeSuperseded, _ := cmd.Flags().GetBool("include-superseded")
		tierNames, _ := cmd.Flags().GetStringSlice("tier")

		var tiers []types.Tier
		for _, t := range tierNames {
			tiers = append(tiers, types.Tier(t))
		}

		c := openChain(context.Background())
		defer c.Close()

		results, err := c.Recall(context.Background(), types.RecallOptions{
			Query:             args[0],
			MaxTokens:         maxTokens,
			MaxResults:        maxResults,
			Tiers:             tiers,
			IncludeSuperseded: includeSuperseded,
		})
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			if results == nil {
				results = []types.RecallResult{}
			}
			json.NewEncoder(os.Stdout).Encode(results)
			return
		}
		if len(results) == 0 {
			fmt.Println("No matches")
			return
		}
		t := ui.NewTable(ui.GetWidth())
		t.Headers("SEQ", "SCORE", "CONTENT")
		for _, r := range results {
			t.Row(fmt.Sprintf("%d", r.Seq), fmt.Sprintf("%.3f", r.Score), truncate(r.Content, 80))
		}
		fmt.Println(t.Render())
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	recallCmd.Flags().Int("max-results", 10, "maximum results to return")
	recallCmd.Flags().Int("max-tokens", 0, "token budget (default from config)")
	recallCmd.Flags().Bool("include-superseded", false, "include superseded entries")
	recallCmd.Flags().StringSlice("tier", nil, "restrict to tiers (repeatable)")
	rootCmd.AddCommand(recallCmd)
}
