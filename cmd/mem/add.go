package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/chain"
	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var addCmd = &cobra.Command{
	Use:     "add <content>",
	GroupID: "memory",
	Short:   "Commit a new memory entry",
	Long: `Append a signed entry to the chain and index it for recall.

Examples:
  mem add "user prefers dark mode" --importance 0.8
  mem add "decided to use SQLite" --kind decision --tier committed
  mem add "met Sam at the conference" --entity Sam --core`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		tier, _ := cmd.Flags().GetString("tier")
		importance, _ := cmd.Flags().GetFloat64("importance")
		source, _ := cmd.Flags().GetString("source")
		trigger, _ := cmd.Flags().GetString("trigger")
		emotion, _ := cmd.Flags().GetString("emotion")
		entities, _ := cmd.Flags().GetStringSlice("entity")
		isCore, _ := cmd.Flags().GetBool("core")

		c := openChain(context.Background())
		defer c.Close()

		result, err := c.Commit(context.Background(), chain.CommitInput{
			Content: args[0],
			Kind:    types.EntryKind(kind),
			Tier:    types.Tier(tier),
			Provenance: types.Provenance{
				Source:     types.Source(source),
				Trigger:    trigger,
				Importance: importance,
				EmotionTag: emotion,
			},
			Links: types.Links{
				RelatedEntities: entities,
				IsCore:          isCore,
			},
		})
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(result)
			return
		}
		fmt.Printf("Committed seq %d (%s)\n", result.Seq, shortDigest(result.ContentHash))
	},
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

// parseSeqList parses "1,2,3" into seqs.
func parseSeqList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var seq int64
		if _, err := fmt.Sscanf(part, "%d", &seq); err != nil {
			return nil, types.NewError(types.ErrInvalidInput, "bad seq %q", part)
		}
		out = append(out, seq)
	}
	if len(out) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "empty seq list")
	}
	return out, nil
}

func init() {
	addCmd.Flags().String("kind", "memory", "entry kind (memory, identity, decision)")
	addCmd.Flags().String("tier", "ephemeral", "tier (committed, relationship, ephemeral)")
	addCmd.Flags().Float64("importance", 0.5, "importance in [0,1]")
	addCmd.Flags().String("source", "manual", "provenance source (manual, auto, consolidation, heartbeat)")
	addCmd.Flags().String("trigger", "", "what triggered this memory")
	addCmd.Flags().String("emotion", "", "emotion tag")
	addCmd.Flags().StringSlice("entity", nil, "related entity (repeatable)")
	addCmd.Flags().Bool("core", false, "mark as core memory")
	rootCmd.AddCommand(addCmd)
}
