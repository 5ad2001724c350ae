package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
	"github.com/SeMmyT/openclaw-memory-chain/internal/ui"
)

var anchorCmd = &cobra.Command{
	Use:     "anchor",
	GroupID: "integrity",
	Short:   "Anchor the chain head with an external backend",
	Long: `Submit the current head (or a specific entry with --seq) to an
anchoring backend. The submission persists a pending receipt in the
provider sidecar before returning; a later upgrade pass confirms it.

Examples:
  mem anchor --provider local
  mem anchor --provider mock --seq 4`,
	Run: func(cmd *cobra.Command, _ []string) {
		provider, _ := cmd.Flags().GetString("provider")
		seq, _ := cmd.Flags().GetInt64("seq")

		c := openChain(context.Background())
		defer c.Close()

		receipt, err := c.Anchor(context.Background(), provider, seq)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(receipt)
			return
		}
		fmt.Printf("Anchored seq %d with %s: %s\n", receipt.Seq, receipt.Provider, receipt.Status)
		if receipt.Error != "" {
			fmt.Printf("  backend error: %s\n", receipt.Error)
		}
	},
}

var anchorStatusCmd = &cobra.Command{
	Use:     "anchor-status",
	GroupID: "integrity",
	Short:   "List anchor receipts",
	Run: func(cmd *cobra.Command, _ []string) {
		seq, _ := cmd.Flags().GetInt64("seq")

		c := openChain(context.Background())
		defer c.Close()

		receipts, err := c.Anchors().Status(seq)
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			if receipts == nil {
				receipts = []types.Receipt{}
			}
			json.NewEncoder(os.Stdout).Encode(receipts)
			return
		}
		if len(receipts) == 0 {
			fmt.Println("No receipts")
			return
		}
		t := ui.NewTable(ui.GetWidth())
		t.Headers("SEQ", "PROVIDER", "STATUS", "SUBMITTED", "BLOCK")
		for _, r := range receipts {
			block := ""
			if r.BlockNumber != 0 {
				block = fmt.Sprintf("%d", r.BlockNumber)
			}
			status := string(r.Status)
			switch r.Status {
			case types.ReceiptConfirmed:
				status = ui.Pass(status)
			case types.ReceiptFailed:
				status = ui.Warn(status)
			}
			t.Row(fmt.Sprintf("%d", r.Seq), r.Provider, status,
				r.SubmittedAt.Format("2006-01-02 15:04"), block)
		}
		fmt.Println(t.Render())
	},
}

var anchorUpgradeCmd = &cobra.Command{
	Use:     "anchor-upgrade",
	GroupID: "integrity",
	Short:   "Move pending receipts to their terminal state",
	Long: `Run the idempotent upgrade pass: every pending receipt is verified
against its backend and terminal outcomes are written back. With
--watch, keep running and re-scan whenever a sidecar changes (plus a
periodic sweep for backends whose confirmations arrive silently).`,
	Run: func(cmd *cobra.Command, _ []string) {
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")

		c := openChain(context.Background())
		defer c.Close()

		ctx := context.Background()
		upgraded, err := c.UpgradeAnchors(ctx)
		if err != nil {
			fail(err)
		}
		logger.Info("upgrade pass complete", "upgraded", upgraded)

		if !watch {
			if !config.GetBool("json") {
				fmt.Printf("Upgraded %d receipts\n", upgraded)
			}
			return
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			fail(types.WrapError(types.ErrIo, err))
		}
		defer watcher.Close()
		if err := watcher.Add(c.Anchors().Dir()); err != nil {
			fail(types.WrapError(types.ErrIo, err))
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case event := <-watcher.Events:
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
			case err := <-watcher.Errors:
				logger.Warn("watcher error", "err", err)
				continue
			case <-ticker.C:
			}
			n, err := c.UpgradeAnchors(ctx)
			if err != nil {
				logger.Error("upgrade pass failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("upgrade pass complete", "upgraded", n)
			}
		}
	},
}

func init() {
	anchorCmd.Flags().String("provider", "local", "anchor backend tag")
	anchorCmd.Flags().Int64("seq", -1, "entry to anchor (default: chain head)")
	rootCmd.AddCommand(anchorCmd)

	anchorStatusCmd.Flags().Int64("seq", -1, "filter receipts by seq")
	rootCmd.AddCommand(anchorStatusCmd)

	anchorUpgradeCmd.Flags().Bool("watch", false, "keep running and watch the sidecar directory")
	anchorUpgradeCmd.Flags().Duration("interval", time.Minute, "periodic sweep interval with --watch")
	rootCmd.AddCommand(anchorUpgradeCmd)
}
