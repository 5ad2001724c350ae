// Package memchain provides a minimal public API for embedding the
// memory chain in other Go programs.
//
// Most integrations should shell out to the mem CLI or read the
// exported JSONL; this package exports only the essential types and
// functions needed for Go programs that want to drive a chain
// programmatically.
package memchain

import (
	"context"

	"github.com/SeMmyT/openclaw-memory-chain/internal/anchor"
	"github.com/SeMmyT/openclaw-memory-chain/internal/chain"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// Chain is an open memory chain.
type Chain = chain.Chain

// Options configures an open chain.
type Options = chain.Options

// DefaultOptions returns the fixed defaults.
func DefaultOptions() Options { return chain.DefaultOptions() }

// Init creates a chain directory (keypair, journal, index) and opens it.
func Init(ctx context.Context, dir string, opts Options) (*Chain, error) {
	return chain.Init(ctx, dir, opts)
}

// Open loads an existing chain, recovering the journal and
// forward-rolling the index if needed.
func Open(ctx context.Context, dir string, opts Options) (*Chain, error) {
	return chain.Open(ctx, dir, opts)
}

// AnchorProvider is the contract anchoring backends implement.
type AnchorProvider = anchor.Provider

// Core types
type (
	Entry         = types.Entry
	EntryKind     = types.EntryKind
	Tier          = types.Tier
	Provenance    = types.Provenance
	Links         = types.Links
	Receipt       = types.Receipt
	RecallOptions = types.RecallOptions
	RecallResult  = types.RecallResult
	CommitInput   = chain.CommitInput
)

// EntryKind constants
const (
	KindMemory        = types.KindMemory
	KindIdentity      = types.KindIdentity
	KindDecision      = types.KindDecision
	KindRedaction     = types.KindRedaction
	KindConsolidation = types.KindConsolidation
	KindBlock         = types.KindBlock
)

// Tier constants
const (
	TierCommitted    = types.TierCommitted
	TierRelationship = types.TierRelationship
	TierEphemeral    = types.TierEphemeral
)

// Block label constants
const (
	BlockPersona     = types.BlockPersona
	BlockUserProfile = types.BlockUserProfile
	BlockGoals       = types.BlockGoals
	BlockKnowledge   = types.BlockKnowledge
)
