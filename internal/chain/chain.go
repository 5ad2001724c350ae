// Package chain wires the journal, content store, index and anchor
// registry into the memory operations an agent calls: commit, recall,
// rethink, block update, redact and introspect.
//
// All write paths run under one advisory flock on chain.lock, so two
// processes can never append to the same chain concurrently. Read
// paths never lock. On open, if the index head trails the journal head
// (a crash between journal fsync and index commit), the gap is
// forward-rolled before the chain is handed out.
package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/SeMmyT/openclaw-memory-chain/internal/anchor"
	"github.com/SeMmyT/openclaw-memory-chain/internal/canonical"
	"github.com/SeMmyT/openclaw-memory-chain/internal/content"
	"github.com/SeMmyT/openclaw-memory-chain/internal/index"
	"github.com/SeMmyT/openclaw-memory-chain/internal/journal"
	"github.com/SeMmyT/openclaw-memory-chain/internal/keys"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const LockFileName = "chain.lock"

// Options configures an open chain.
type Options struct {
	WriterKeyPath    string        // overrides <dir>/agent.key
	LockTimeout      time.Duration // how long write ops wait for the flock
	MaxTokensDefault int           // recall budget when the caller sets none
	AnchorTimeout    time.Duration // per-backend call bound
	Index            index.Options
	ReadOnly         bool             // open without the writer key
	Now              func() time.Time // injectable clock
}

// DefaultOptions returns the fixed defaults from the design notes.
func DefaultOptions() Options {
	return Options{
		LockTimeout:      30 * time.Second,
		MaxTokensDefault: 2048,
		AnchorTimeout:    30 * time.Second,
		Index:            index.DefaultOptions(),
	}
}

// Chain is an open memory chain rooted at a directory.
type Chain struct {
	dir  string
	opts Options

	keys    *keys.Pair
	journal *journal.Journal
	store   *content.Store
	index   *index.Index
	anchors *anchor.Registry
	now     func() time.Time
}

// Init creates a chain directory: keypair, empty journal, index, and
// anchor sidecar directory. Existing keys are preserved.
func Init(ctx context.Context, dir string, opts Options) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	if _, err := os.Stat(filepath.Join(dir, keys.PrivateKeyFile)); os.IsNotExist(err) {
		if _, err := keys.Generate(dir); err != nil {
			return nil, err
		}
	}
	return Open(ctx, dir, opts)
}

// Open loads an existing chain, runs journal recovery, and forward-rolls
// the index if it trails the journal.
func Open(ctx context.Context, dir string, opts Options) (*Chain, error) {
	if opts.LockTimeout == 0 {
		opts = mergeDefaults(opts)
	}
	c := &Chain{dir: dir, opts: opts, now: opts.Now}
	if c.now == nil {
		c.now = time.Now
	}

	var err error
	if opts.ReadOnly {
		pub, err := keys.LoadPublic(dir)
		if err != nil {
			return nil, err
		}
		c.keys = &keys.Pair{Public: pub}
	} else {
		c.keys, err = keys.Load(dir, opts.WriterKeyPath)
		if err != nil {
			return nil, err
		}
	}

	c.journal, err = journal.Open(dir, c.keys.Public, c.keys.Private)
	if err != nil {
		return nil, err
	}
	c.store, err = content.New(dir)
	if err != nil {
		return nil, err
	}
	c.index, err = index.New(ctx, filepath.Join(dir, "memory.db"), opts.Index)
	if err != nil {
		return nil, err
	}
	c.anchors, err = anchor.NewRegistry(dir, opts.AnchorTimeout)
	if err != nil {
		return nil, err
	}
	c.anchors.Register(anchor.NewLocal(c.anchors.Dir()))

	if err := c.forwardRoll(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func mergeDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.LockTimeout == 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.MaxTokensDefault == 0 {
		opts.MaxTokensDefault = def.MaxTokensDefault
	}
	if opts.AnchorTimeout == 0 {
		opts.AnchorTimeout = def.AnchorTimeout
	}
	if opts.Index.HotDays == 0 {
		opts.Index = def.Index
	}
	return opts
}

// Close releases the index handle. The journal holds no descriptors
// between calls.
func (c *Chain) Close() error { return c.index.Close() }

// Dir returns the chain directory.
func (c *Chain) Dir() string { return c.dir }

// Anchors exposes the registry so callers can register backends.
func (c *Chain) Anchors() *anchor.Registry { return c.anchors }

// Index exposes the projection for read-only extensions.
func (c *Chain) Index() *index.Index { return c.index }

// Journal exposes the log for read paths (export, verify).
func (c *Chain) Journal() *journal.Journal { return c.journal }

// forwardRoll applies journal entries the index has not seen. Bounded
// by the journal head; a fresh index replays everything.
func (c *Chain) forwardRoll(ctx context.Context) error {
	indexHead, err := c.index.Head(ctx)
	if err != nil {
		return err
	}
	journalHead := c.journal.Head().Seq
	if indexHead >= journalHead {
		return nil
	}
	return c.journal.Scan(indexHead+1, journalHead, func(e *types.Entry) error {
		return c.index.Apply(ctx, e, c.payloadFor(e))
	})
}

// payloadFor hydrates an entry's payload for indexing; a missing or
// redacted blob indexes as empty text.
func (c *Chain) payloadFor(e *types.Entry) string {
	text, err := c.store.Get(e.ContentHash)
	if err != nil || text == content.RedactionSentinel {
		return ""
	}
	return text
}

// withWriteLock runs fn while holding the chain's advisory writer lock.
func (c *Chain) withWriteLock(ctx context.Context, fn func() error) error {
	if c.keys.Private == nil {
		return types.NewError(types.ErrSignatureFailed, "chain opened read-only")
	}
	lock := flock.New(filepath.Join(c.dir, LockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return types.NewError(types.ErrWriteLocked, "another process holds the writer lock")
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// CommitInput is the caller-facing shape of a commit.
type CommitInput struct {
	Content    string
	Kind       types.EntryKind
	Tier       types.Tier
	Provenance types.Provenance
	Links      types.Links
	CreatedAt  time.Time // zero means now
}

// CommitResult identifies the appended entry.
type CommitResult struct {
	Seq         int64  `json:"seq"`
	ContentHash string `json:"content_hash"`
}

func (c *Chain) validateCommit(in *CommitInput) error {
	if canonical.NormalizeText(in.Content) == "" {
		return types.NewError(types.ErrInvalidInput, "content is empty")
	}
	if in.Kind == "" {
		in.Kind = types.KindMemory
	}
	if !types.ValidKind(in.Kind) {
		return types.NewError(types.ErrInvalidInput, "unknown entry kind %q", in.Kind)
	}
	switch in.Kind {
	case types.KindConsolidation, types.KindBlock, types.KindRedaction:
		return types.NewError(types.ErrInvalidInput, "%s entries are written by their dedicated operation", in.Kind)
	}
	if in.Tier == "" {
		in.Tier = types.TierEphemeral
	}
	if !types.ValidTier(in.Tier) {
		return types.NewError(types.ErrInvalidInput, "unknown tier %q", in.Tier)
	}
	if in.Provenance.Source == "" {
		in.Provenance.Source = types.SourceManual
	}
	if !types.ValidSource(in.Provenance.Source) {
		return types.NewError(types.ErrInvalidInput, "unknown provenance source %q", in.Provenance.Source)
	}
	if in.Provenance.Importance < 0 || in.Provenance.Importance > 1 {
		return types.NewError(types.ErrInvalidInput, "importance %v out of [0,1]", in.Provenance.Importance)
	}
	return nil
}

// Commit normalizes content, stores the blob, appends a signed entry
// and projects it into the index. Validation failures surface before
// any side effect; once the journal append has fsynced, the operation
// is durable and the index always catches up.
func (c *Chain) Commit(ctx context.Context, in CommitInput) (*CommitResult, error) {
	if err := c.validateCommit(&in); err != nil {
		return nil, err
	}
	var result *CommitResult
	err := c.withWriteLock(ctx, func() error {
		entry, err := c.appendEntry(ctx, &in)
		if err != nil {
			return err
		}
		result = &CommitResult{Seq: entry.Seq, ContentHash: entry.ContentHash}
		return nil
	})
	return result, err
}

// appendEntry is the shared write path under the lock: blob put,
// journal append, index apply.
func (c *Chain) appendEntry(ctx context.Context, in *CommitInput) (*types.Entry, error) {
	normalized := canonical.NormalizeText(in.Content)
	digest, err := c.store.Put(normalized)
	if err != nil {
		return nil, err
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = c.now()
	}
	entry := &types.Entry{
		ContentHash: digest,
		PayloadRef:  digest,
		Kind:        in.Kind,
		Tier:        in.Tier,
		CreatedAt:   createdAt,
		Provenance: types.Provenance{
			Source:     in.Provenance.Source,
			Trigger:    canonical.NormalizeString(in.Provenance.Trigger),
			Importance: in.Provenance.Importance,
			EmotionTag: canonical.NormalizeString(in.Provenance.EmotionTag),
		},
		Links: in.Links,
	}
	entry, err = c.journal.Append(entry)
	if err != nil {
		return nil, err
	}
	if err := c.index.Apply(ctx, entry, normalized); err != nil {
		// Journal append already fsynced: the entry is durable and the
		// next open forward-rolls the index. Surface the error anyway.
		return entry, err
	}
	return entry, nil
}

// Recall retrieves ranked matches subject to the token budget, then
// touches each returned row. Ordering is stable: score desc, seq desc.
func (c *Chain) Recall(ctx context.Context, opts types.RecallOptions) ([]types.RecallResult, error) {
	for _, t := range opts.Tiers {
		if !types.ValidTier(t) {
			return nil, types.NewError(types.ErrInvalidInput, "unknown tier %q", t)
		}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = c.opts.MaxTokensDefault
	}
	now := c.now()
	hits, err := c.index.Search(ctx, opts, now)
	if err != nil {
		return nil, err
	}

	var (
		results []types.RecallResult
		spent   int
	)
	for _, hit := range hits {
		cost := estimateTokens(hit.Content)
		if spent+cost > opts.MaxTokens && len(results) > 0 {
			break
		}
		spent += cost
		results = append(results, types.RecallResult{Seq: hit.Seq, Content: hit.Content, Score: hit.Score})
		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			break
		}
	}
	for _, res := range results {
		if err := c.index.Touch(ctx, res.Seq, now); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// estimateTokens approximates the LLM token cost of text. Four bytes
// per token is the usual planning heuristic.
func estimateTokens(s string) int {
	n := (len(s) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// RethinkResult identifies the consolidation entry.
type RethinkResult struct {
	ConsolidationSeq int64 `json:"consolidation_seq"`
	SupersededCount  int   `json:"superseded_count"`
}

// Rethink appends a consolidation entry superseding the given seqs.
// Targets must exist and must not be redaction entries; consolidating
// an already-superseded entry chains supersessions, with the newest
// consolidation winning for retrieval.
func (c *Chain) Rethink(ctx context.Context, supersedes []int64, newUnderstanding, reason string) (*RethinkResult, error) {
	if len(supersedes) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "supersedes list is empty")
	}
	if canonical.NormalizeText(newUnderstanding) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "new understanding is empty")
	}
	seen := map[int64]bool{}
	for _, s := range supersedes {
		if seen[s] {
			return nil, types.NewError(types.ErrInvalidInput, "seq %d listed twice", s)
		}
		seen[s] = true
	}

	var result *RethinkResult
	err := c.withWriteLock(ctx, func() error {
		nextSeq := c.journal.Head().Seq + 1
		for _, s := range supersedes {
			if s >= nextSeq {
				return types.NewSeqError(types.ErrUnknownSeq, s, "no such entry (head is %d)", nextSeq-1)
			}
			target, err := c.journal.Read(s)
			if err != nil {
				return types.NewSeqError(types.ErrUnknownSeq, s, "no such entry")
			}
			if target.Kind == types.KindRedaction {
				return types.NewSeqError(types.ErrInvalidInput, s, "cannot supersede a redaction entry")
			}
		}

		in := &CommitInput{
			Content: newUnderstanding,
			Kind:    types.KindConsolidation,
			Tier:    types.TierCommitted,
			Provenance: types.Provenance{
				Source:     types.SourceConsolidation,
				Trigger:    canonical.NormalizeString(reason),
				Importance: 0.5,
			},
			Links: types.Links{Supersedes: supersedes},
		}
		entry, err := c.appendEntry(ctx, in)
		if err != nil {
			return err
		}
		result = &RethinkResult{ConsolidationSeq: entry.Seq, SupersededCount: len(supersedes)}
		return nil
	})
	return result, err
}

// BlockUpdateResult identifies the new block head.
type BlockUpdateResult struct {
	Seq     int64 `json:"seq"`
	Version int   `json:"version"`
}

// BlockUpdate appends a new version of a labeled block, linking it to
// and superseding the previous version. The first entry under a label
// gets version 1 and no predecessor.
func (c *Chain) BlockUpdate(ctx context.Context, label types.BlockLabel, contentText string, isCore bool) (*BlockUpdateResult, error) {
	if !types.ValidBlockLabel(label) {
		return nil, types.NewError(types.ErrInvalidInput, "unknown block label %q", label)
	}
	if canonical.NormalizeText(contentText) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "content is empty")
	}

	var result *BlockUpdateResult
	err := c.withWriteLock(ctx, func() error {
		prevSeq, err := c.index.BlockLatest(ctx, label)
		if err != nil {
			return err
		}
		version := 1
		links := types.Links{BlockLabel: label, IsCore: isCore}
		if prevSeq >= 0 {
			prevVersion, err := c.index.BlockVersion(ctx, prevSeq)
			if err != nil {
				return err
			}
			version = prevVersion + 1
			links.PrevBlockSeq = &prevSeq
		}
		links.BlockVersion = version

		in := &CommitInput{
			Content: contentText,
			Kind:    types.KindBlock,
			Tier:    types.TierCommitted,
			Provenance: types.Provenance{
				Source:     types.SourceManual,
				Importance: 1.0,
			},
			Links: links,
		}
		entry, err := c.appendEntry(ctx, in)
		if err != nil {
			return err
		}
		result = &BlockUpdateResult{Seq: entry.Seq, Version: version}
		return nil
	})
	return result, err
}

// Redact appends a redaction entry naming target and overwrites the
// target's blob with the sentinel. The signed header of the target
// stays on the chain and keeps verifying.
func (c *Chain) Redact(ctx context.Context, target int64, reason string) (*CommitResult, error) {
	var result *CommitResult
	err := c.withWriteLock(ctx, func() error {
		entry, err := c.journal.Read(target)
		if err != nil {
			return types.NewSeqError(types.ErrUnknownSeq, target, "no such entry")
		}
		if entry.Kind == types.KindRedaction {
			return types.NewSeqError(types.ErrInvalidInput, target, "cannot redact a redaction entry")
		}

		payload := fmt.Sprintf("redaction of seq %d", target)
		if reason != "" {
			payload += ": " + reason
		}
		in := &CommitInput{
			Content: payload,
			Kind:    types.KindRedaction,
			Tier:    types.TierCommitted,
			Provenance: types.Provenance{
				Source:     types.SourceManual,
				Importance: 0,
			},
			Links: types.Links{Supersedes: []int64{target}},
		}
		redaction, err := c.appendEntry(ctx, in)
		if err != nil {
			return err
		}
		if err := c.store.Redact(entry.ContentHash); err != nil {
			return err
		}
		result = &CommitResult{Seq: redaction.Seq, ContentHash: redaction.ContentHash}
		return nil
	})
	return result, err
}

// Introspect returns the composite read-only view of one entry. It
// performs no touches.
func (c *Chain) Introspect(ctx context.Context, seq int64) (*types.Introspection, error) {
	entry, err := c.journal.Read(seq)
	if err != nil {
		return nil, err
	}
	row, err := c.index.Row(ctx, seq)
	if err != nil {
		return nil, err
	}
	receipts, err := c.anchors.Status(seq)
	if err != nil {
		return nil, err
	}
	text, err := c.store.Get(entry.ContentHash)
	if err != nil {
		text = ""
	}
	out := &types.Introspection{
		Entry:      entry,
		Content:    text,
		Source:     entry.Provenance.Source,
		Trigger:    entry.Provenance.Trigger,
		Supersedes: entry.Links.Supersedes,
		Receipts:   receipts,
	}
	if out.Receipts == nil {
		out.Receipts = []types.Receipt{}
	}
	if row.SupersededBy != nil {
		out.SupersededBy = row.SupersededBy
	}
	return out, nil
}

// Anchor submits the entry at seq (negative means the current head) to
// the tagged backend. Backend failures never fail the chain: they are
// captured in a persisted failed receipt.
func (c *Chain) Anchor(ctx context.Context, provider string, seq int64) (*types.Receipt, error) {
	if seq < 0 {
		seq = c.journal.Head().Seq
	}
	if seq < 0 {
		return nil, types.NewError(types.ErrInvalidInput, "chain is empty, nothing to anchor")
	}
	entry, err := c.journal.Read(seq)
	if err != nil {
		return nil, err
	}
	hash, err := canonical.EntryHash(entry)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	receipt, err := c.anchors.Submit(ctx, provider, seq, hash)
	if err != nil {
		return nil, err
	}
	if err := c.index.PutReceipt(ctx, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// UpgradeAnchors runs one idempotent upgrade pass over pending receipts
// and mirrors terminal outcomes into the index projection.
func (c *Chain) UpgradeAnchors(ctx context.Context) (int, error) {
	n, err := c.anchors.Upgrade(ctx)
	if err != nil {
		return n, err
	}
	receipts, err := c.anchors.Status(-1)
	if err != nil {
		return n, err
	}
	for i := range receipts {
		if err := c.index.PutReceipt(ctx, &receipts[i]); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Stats aggregates the chain summary.
func (c *Chain) Stats(ctx context.Context) (*types.Stats, error) {
	return c.index.Stats(ctx, c.now())
}
