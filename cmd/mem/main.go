// Command mem is the CLI for the verifiable agent memory chain: an
// append-only, Ed25519-signed, hash-linked journal with a rebuildable
// SQLite index and pluggable anchoring backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/SeMmyT/openclaw-memory-chain/internal/anchor"
	"github.com/SeMmyT/openclaw-memory-chain/internal/chain"
	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/index"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var (
	chainDirFlag string
	jsonOutput   bool
	logger       = log.New(os.Stderr)
)

var rootCmd = &cobra.Command{
	Use:   "mem",
	Short: "Verifiable append-only memory chain for AI agents",
	Long: `mem maintains a cryptographically signed, hash-linked memory log.

Every remembered fact is an entry: signed by the chain's writer key,
linked to its predecessor by digest, content-addressed for dedup and
indexed for recall. The journal is the source of truth; the index is
a derived cache that can always be rebuilt from it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if err := config.Initialize(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		}
		if chainDirFlag != "" {
			config.Set("chain-dir", chainDirFlag)
		}
		if jsonOutput {
			config.Set("json", true)
		}
		if logFile := config.GetString("log-file"); logFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
			})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&chainDirFlag, "chain-dir", "", "chain directory (default $CHAIN_DIR or ./.memchain)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.AddGroup(
		&cobra.Group{ID: "memory", Title: "Memory operations:"},
		&cobra.Group{ID: "integrity", Title: "Integrity and anchoring:"},
		&cobra.Group{ID: "setup", Title: "Setup and inspection:"},
	)
}

// chainOptions assembles chain options from the config singleton.
func chainOptions() chain.Options {
	opts := chain.DefaultOptions()
	opts.WriterKeyPath = config.GetString("writer-key-path")
	opts.LockTimeout = config.GetDuration("lock-timeout", opts.LockTimeout)
	opts.AnchorTimeout = config.GetDuration("anchor-timeout", opts.AnchorTimeout)
	opts.MaxTokensDefault = config.GetInt("max-tokens-default")
	opts.Index = index.Options{
		HotDays:      config.GetFloat("decay-hot-days"),
		WarmDays:     config.GetFloat("decay-warm-days"),
		HalfLifeDays: config.GetFloat("recall-half-life-days"),
		Ranker:       index.TermOverlapRanker,
	}
	return opts
}

// openChain opens the configured chain, registering the built-in
// anchor backends, and exits with the error's stable code on failure.
func openChain(ctx context.Context) *chain.Chain {
	c, err := chain.Open(ctx, config.ChainDir(), chainOptions())
	if err != nil {
		fail(err)
	}
	c.Anchors().Register(anchor.NewMock())
	return c
}

// fail prints an error with its kind tag and exits with the kind's
// stable code.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", types.KindOf(err), err)
	os.Exit(types.ExitCode(err))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}
