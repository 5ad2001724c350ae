package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SeMmyT/openclaw-memory-chain/internal/chain"
	"github.com/SeMmyT/openclaw-memory-chain/internal/config"
	"github.com/SeMmyT/openclaw-memory-chain/internal/keys"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Create the chain directory and writer keypair",
	Long: `Initialize a memory chain: create the chain directory, generate an
Ed25519 writer keypair if absent (agent.key mode 0600, agent.pub), and
set up the empty journal, content store and index.

The chain directory comes from --chain-dir, $CHAIN_DIR, or defaults to
./.memchain.`,
	Run: func(cmd *cobra.Command, _ []string) {
		quiet, _ := cmd.Flags().GetBool("quiet")
		dir := config.ChainDir()

		hadKey := false
		if _, err := os.Stat(filepath.Join(dir, keys.PrivateKeyFile)); err == nil {
			hadKey = true
		}

		c, err := chain.Init(context.Background(), dir, chainOptions())
		if err != nil {
			fail(err)
		}
		defer c.Close()

		if quiet {
			return
		}
		fmt.Printf("Initialized memory chain in %s\n", dir)
		if hadKey {
			fmt.Println("Writer keypair already present, kept as-is")
		} else {
			fmt.Println("Generated writer keypair (agent.key, agent.pub)")
		}
	},
}

func init() {
	initCmd.Flags().BoolP("quiet", "q", false, "suppress output")
	rootCmd.AddCommand(initCmd)
}
