package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
	"github.com/SeMmyT/openclaw-memory-chain/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:     "verify",
	GroupID: "integrity",
	Short:   "Verify every chain invariant",
	Long: `Walk the journal from seq 0 to head checking framing, gap-free
seqs, prev-hash linkage, signatures, blob digests, supersession
targets and block lineage. Exits 0 only if every invariant holds;
otherwise prints a machine-readable line locating the first failure
and counts the rest.`,
	Run: func(cmd *cobra.Command, _ []string) {
		c := openChain(context.Background())
		defer c.Close()

		report, err := c.Verify(context.Background())
		if err != nil {
			fail(err)
		}

		if config.GetBool("json") {
			json.NewEncoder(os.Stdout).Encode(report)
			if !report.OK {
				os.Exit(types.ExitCode(types.NewError(types.ErrVerifyFailed, "chain verification failed")))
			}
			return
		}

		if report.OK {
			fmt.Printf("%s: %d entries, all invariants hold\n", ui.Pass("OK"), report.Entries)
			return
		}
		f := report.FirstFailure
		fmt.Printf("%s seq=%d invariant=%s detail=%q\n", ui.Warn("FAIL"), f.Seq, f.Invariant, f.Detail)
		if extra := len(report.Failures) - 1; extra > 0 {
			fmt.Printf("%d further anomalies\n", extra)
		}
		os.Exit(types.ExitCode(types.NewSeqError(types.ErrVerifyFailed, f.Seq, "%s", f.Invariant)))
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
