package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "setup",
	Short:   "Summarize the chain",
	Long:    `Show the head seq and entry counts grouped by kind, tier and decay tier.`,
	Run: func(cmd *cobra.Command, _ []string) {
		c := openChain(context.Background())
		defer c.Close()

		st, err := c.Stats(context.Background())
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(st)
			return
		}

		fmt.Printf("Head seq: %d (%d entries, %d superseded)\n\n", st.HeadSeq, st.Entries, st.Superseded)
		t := ui.NewTable(ui.GetWidth())
		t.Headers("GROUP", "VALUE", "COUNT")
		for _, group := range []struct {
			name   string
			counts map[string]int64
		}{
			{"kind", st.ByKind},
			{"tier", st.ByTier},
			{"decay", st.ByDecay},
		} {
			keys := make([]string, 0, len(group.counts))
			for k := range group.counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				t.Row(group.name, k, fmt.Sprintf("%d", group.counts[k]))
			}
		}
		fmt.Println(t.Render())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
