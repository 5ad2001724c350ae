// Package index implements the derived, rebuildable projection of the
// journal: one SQLite database holding entry rows, supersession edges,
// the block-latest cache, an anchor receipt projection, and the meta
// table the forward-roll reads on open.
//
// The journal is the sole source of truth. Anything here can be dropped
// and repopulated by Rebuild without losing chain state; only access
// counters and last-accessed timestamps are ephemeral.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const metaHeadKey = "index_head"

// Ranker scores a payload against a query. The core treats it as a
// lexical predicate: zero means "no match" and drops the candidate
// when a query is present.
type Ranker func(query, content string) float64

// Options tunes decay windows and ranking.
type Options struct {
	HotDays      float64
	WarmDays     float64
	HalfLifeDays float64
	Ranker       Ranker
}

// DefaultOptions mirrors the fixed defaults from the design notes.
func DefaultOptions() Options {
	return Options{
		HotDays:      7,
		WarmDays:     30,
		HalfLifeDays: 7,
		Ranker:       TermOverlapRanker,
	}
}

// TermOverlapRanker is the built-in lexical scorer: the fraction of
// query terms present in the content, case-folded. A richer ranker can
// be plugged in through Options.
func TermOverlapRanker(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// Index is an open projection database.
type Index struct {
	db   *sql.DB
	opts Options
}

// New opens (creating if needed) the index at dbPath.
func New(ctx context.Context, dbPath string, opts Options) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	// Single writer, many readers: matches the chain's locking model.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, types.WrapError(types.ErrIo, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, types.WrapError(types.ErrIo, err)
	}
	if opts.HotDays == 0 {
		opts = DefaultOptions()
	}
	return &Index{db: db, opts: opts}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// DB exposes the underlying handle for extensions and diagnostics.
func (ix *Index) DB() *sql.DB { return ix.db }

// Head returns the last seq the index has applied, or -1 for a fresh
// index. The chain compares this against the journal head on open and
// forward-rolls the difference.
func (ix *Index) Head(ctx context.Context) (int64, error) {
	var val string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaHeadKey).Scan(&val)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, types.WrapError(types.ErrIo, err)
	}
	head, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return -1, types.NewError(types.ErrCorrupt, "meta %s holds %q", metaHeadKey, val)
	}
	return head, nil
}

func setHead(ctx context.Context, tx *sql.Tx, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, metaHeadKey, strconv.FormatInt(seq, 10))
	return err
}

// Apply projects one journal entry into the index, exactly as if it
// had just been committed. It is the single write path shared by
// commit, the forward-roll, and Rebuild, which is what keeps rebuilds
// equivalent to the original commit stream.
func (ix *Index) Apply(ctx context.Context, e *types.Entry, content string) error {
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		return applyEntry(ctx, tx, e, content)
	})
}

func applyEntry(ctx context.Context, tx *sql.Tx, e *types.Entry, content string) error {
	isCore := 0
	if e.Links.IsCore {
		isCore = 1
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO entries (
			seq, kind, tier, created_at, importance, content,
			is_superseded, superseded_by, block_label, block_version,
			is_core, is_redacted, access_count, last_accessed, decay_tier
		) VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, 0, 0, NULL, 'hot')
	`, e.Seq, string(e.Kind), string(e.Tier), e.CreatedAt.UTC(), e.Provenance.Importance,
		content, string(e.Links.BlockLabel), e.Links.BlockVersion, isCore)
	if err != nil {
		return fmt.Errorf("upserting entry %d: %w", e.Seq, err)
	}

	switch e.Kind {
	case types.KindConsolidation:
		for _, target := range e.Links.Supersedes {
			if err := supersede(ctx, tx, target, e.Seq); err != nil {
				return err
			}
		}
	case types.KindBlock:
		if e.Links.PrevBlockSeq != nil {
			if err := supersede(ctx, tx, *e.Links.PrevBlockSeq, e.Seq); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO block_latest (label, seq) VALUES (?, ?)
			ON CONFLICT (label) DO UPDATE SET seq = excluded.seq
		`, string(e.Links.BlockLabel), e.Seq)
		if err != nil {
			return fmt.Errorf("bumping block_latest %s: %w", e.Links.BlockLabel, err)
		}
	case types.KindRedaction:
		for _, target := range e.Links.Supersedes {
			_, err = tx.ExecContext(ctx, `
				UPDATE entries SET is_redacted = 1, content = '' WHERE seq = ?
			`, target)
			if err != nil {
				return fmt.Errorf("flagging redaction of %d: %w", target, err)
			}
		}
	}
	return setHead(ctx, tx, e.Seq)
}

func supersede(ctx context.Context, tx *sql.Tx, target, by int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO consolidations (consolidation_seq, superseded_seq) VALUES (?, ?)
	`, by, target); err != nil {
		return fmt.Errorf("recording supersession edge %d->%d: %w", by, target, err)
	}
	// The most recent consolidation wins for retrieval filtering.
	if _, err := tx.ExecContext(ctx, `
		UPDATE entries SET is_superseded = 1, superseded_by = ? WHERE seq = ?
	`, by, target); err != nil {
		return fmt.Errorf("marking %d superseded: %w", target, err)
	}
	return nil
}

// MarkSuperseded flips a single row outside the apply path. Exposed for
// extensions; commit paths go through Apply.
func (ix *Index) MarkSuperseded(ctx context.Context, seq, by int64) error {
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		return supersede(ctx, tx, seq, by)
	})
}

// Touch records an access: bumps the counter, stamps last_accessed and
// recomputes the decay tier from now.
func (ix *Index) Touch(ctx context.Context, seq int64, now time.Time) error {
	tier := string(types.DecayHot) // an access always reheats
	_, err := ix.db.ExecContext(ctx, `
		UPDATE entries
		SET access_count = access_count + 1, last_accessed = ?, decay_tier = ?
		WHERE seq = ?
	`, now.UTC(), tier, seq)
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}

// Row fetches the projected row for seq.
func (ix *Index) Row(ctx context.Context, seq int64) (*types.IndexRow, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT seq, kind, tier, created_at, importance, is_superseded, superseded_by,
		       block_label, block_version, is_core, is_redacted, access_count, last_accessed, decay_tier
		FROM entries WHERE seq = ?
	`, seq)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, types.NewSeqError(types.ErrUnknownSeq, seq, "not indexed")
	}
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return r, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRow(s rowScanner) (*types.IndexRow, error) {
	var (
		r            types.IndexRow
		kind, tier   string
		label, decay string
		superBy      sql.NullInt64
		lastAccess   sql.NullTime
		isSuper      int
		isCore       int
		isRedacted   int
	)
	err := s.Scan(&r.Seq, &kind, &tier, &r.CreatedAt, &r.Importance, &isSuper, &superBy,
		&label, &r.BlockVersion, &isCore, &isRedacted, &r.AccessCount, &lastAccess, &decay)
	if err != nil {
		return nil, err
	}
	r.Kind = types.EntryKind(kind)
	r.Tier = types.Tier(tier)
	r.BlockLabel = types.BlockLabel(label)
	r.DecayTier = types.DecayTier(decay)
	r.IsSuperseded = isSuper == 1
	r.IsCore = isCore == 1
	r.IsRedacted = isRedacted == 1
	if superBy.Valid {
		v := superBy.Int64
		r.SupersededBy = &v
	}
	if lastAccess.Valid {
		t := lastAccess.Time.UTC()
		r.LastAccessed = &t
	}
	return &r, nil
}

// DecayTierAt derives the hot/warm/cold label for a row as of now.
// The stored column is a cache; this is the authoritative derivation.
func (ix *Index) DecayTierAt(r *types.IndexRow, now time.Time) types.DecayTier {
	base := r.CreatedAt
	if r.LastAccessed != nil && r.LastAccessed.After(base) {
		base = *r.LastAccessed
	}
	ageDays := now.Sub(base).Hours() / 24
	switch {
	case ageDays <= ix.opts.HotDays:
		return types.DecayHot
	case ageDays <= ix.opts.WarmDays:
		return types.DecayWarm
	default:
		return types.DecayCold
	}
}

// RefreshDecay lazily rewrites the cached decay_tier for every row
// based on now. Read paths call it before grouping by tier.
func (ix *Index) RefreshDecay(ctx context.Context, now time.Time) error {
	hotCutoff := now.Add(-time.Duration(ix.opts.HotDays * 24 * float64(time.Hour))).UTC()
	warmCutoff := now.Add(-time.Duration(ix.opts.WarmDays * 24 * float64(time.Hour))).UTC()
	_, err := ix.db.ExecContext(ctx, `
		UPDATE entries SET decay_tier = CASE
			WHEN COALESCE(MAX(last_accessed, created_at), created_at) >= ? THEN 'hot'
			WHEN COALESCE(MAX(last_accessed, created_at), created_at) >= ? THEN 'warm'
			ELSE 'cold'
		END
	`, hotCutoff, warmCutoff)
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}

// BlockLatest returns the seq of the newest non-superseded block entry
// for label, or -1 when the label has never been set.
func (ix *Index) BlockLatest(ctx context.Context, label types.BlockLabel) (int64, error) {
	var seq int64
	err := ix.db.QueryRowContext(ctx, `SELECT seq FROM block_latest WHERE label = ?`, string(label)).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, types.WrapError(types.ErrIo, err)
	}
	return seq, nil
}

// BlockVersion returns the block_version recorded at seq.
func (ix *Index) BlockVersion(ctx context.Context, seq int64) (int, error) {
	var v int
	err := ix.db.QueryRowContext(ctx, `SELECT block_version FROM entries WHERE seq = ?`, seq).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, types.NewSeqError(types.ErrUnknownSeq, seq, "not indexed")
	}
	if err != nil {
		return 0, types.WrapError(types.ErrIo, err)
	}
	return v, nil
}

// CoreMemories returns every non-superseded row flagged is_core, newest
// first. Context assemblers are always offered these.
func (ix *Index) CoreMemories(ctx context.Context) ([]*types.IndexRow, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT seq, kind, tier, created_at, importance, is_superseded, superseded_by,
		       block_label, block_version, is_core, is_redacted, access_count, last_accessed, decay_tier
		FROM entries WHERE is_core = 1 AND is_superseded = 0 AND is_redacted = 0
		ORDER BY seq DESC
	`)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer rows.Close()
	var out []*types.IndexRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, types.WrapError(types.ErrIo, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return out, nil
}

// Hit is one scored search candidate before hydration.
type Hit struct {
	Seq     int64
	Content string
	Score   float64
}

// Search ranks candidates for a query:
//
//	score = 0.30*recency + 0.40*accessNorm + 0.30*importance + lex
//
// recency is exp(-age_days/HalfLifeDays), accessNorm saturates with
// use, and lex is the pluggable ranker. Candidates the ranker scores
// zero are dropped when a query is present. Redaction entries and
// redacted rows are always excluded; superseded rows are excluded
// unless IncludeSuperseded is set. Ties break to the larger seq.
func (ix *Index) Search(ctx context.Context, opts types.RecallOptions, now time.Time) ([]Hit, error) {
	where := []string{"kind != 'redaction'", "is_redacted = 0"}
	var args []any
	if !opts.IncludeSuperseded {
		where = append(where, "is_superseded = 0")
	}
	if len(opts.Tiers) > 0 {
		marks := make([]string, len(opts.Tiers))
		for i, t := range opts.Tiers {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "tier IN ("+strings.Join(marks, ", ")+")")
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT seq, created_at, importance, access_count, last_accessed, content
		FROM entries WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			seq         int64
			createdAt   time.Time
			importance  float64
			accessCount int64
			lastAccess  sql.NullTime
			content     string
		)
		if err := rows.Scan(&seq, &createdAt, &importance, &accessCount, &lastAccess, &content); err != nil {
			return nil, types.WrapError(types.ErrIo, err)
		}

		lex := 0.0
		if opts.Query != "" {
			if ix.opts.Ranker != nil {
				lex = ix.opts.Ranker(opts.Query, content)
			}
			if lex == 0 {
				continue
			}
		}

		base := createdAt
		if lastAccess.Valid && lastAccess.Time.After(base) {
			base = lastAccess.Time
		}
		ageDays := now.Sub(base).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / ix.opts.HalfLifeDays)
		accessNorm := float64(accessCount) / (1 + float64(accessCount))
		score := 0.30*recency + 0.40*accessNorm + 0.30*importance + lex
		hits = append(hits, Hit{Seq: seq, Content: content, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}

	sort.Slice(hits, func(i, k int) bool {
		if hits[i].Score != hits[k].Score {
			return hits[i].Score > hits[k].Score
		}
		return hits[i].Seq > hits[k].Seq
	})
	if opts.MaxResults > 0 && len(hits) > opts.MaxResults {
		hits = hits[:opts.MaxResults]
	}
	return hits, nil
}

// SupersededBy returns the consolidation seqs that list seq as a target.
func (ix *Index) SupersededBy(ctx context.Context, seq int64) ([]int64, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT consolidation_seq FROM consolidations WHERE superseded_seq = ? ORDER BY consolidation_seq
	`, seq)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var s int64
		if err := rows.Scan(&s); err != nil {
			return nil, types.WrapError(types.ErrIo, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PutReceipt mirrors an anchor receipt into the projection. Sidecar
// files remain the source of truth.
func (ix *Index) PutReceipt(ctx context.Context, r *types.Receipt) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO anchors (seq, provider, receipt_id, status, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (seq, provider, receipt_id) DO UPDATE SET status = excluded.status
	`, r.Seq, r.Provider, r.ID, string(r.Status), r.SubmittedAt.UTC())
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}

// Reset drops every projected row. Rebuild calls this before replay;
// the anchors projection is repopulated from the sidecars afterwards.
func (ix *Index) Reset(ctx context.Context) error {
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"entries", "consolidations", "block_latest", "anchors", "meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats aggregates counts for the stats command.
func (ix *Index) Stats(ctx context.Context, now time.Time) (*types.Stats, error) {
	if err := ix.RefreshDecay(ctx, now); err != nil {
		return nil, err
	}
	st := &types.Stats{
		HeadSeq: -1,
		ByKind:  map[string]int64{},
		ByTier:  map[string]int64{},
		ByDecay: map[string]int64{},
	}
	if head, err := ix.Head(ctx); err == nil {
		st.HeadSeq = head
	}
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.Entries); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE is_superseded = 1`).Scan(&st.Superseded); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	for col, dest := range map[string]map[string]int64{"kind": st.ByKind, "tier": st.ByTier, "decay_tier": st.ByDecay} {
		rows, err := ix.db.QueryContext(ctx, `SELECT `+col+`, COUNT(*) FROM entries GROUP BY `+col)
		if err != nil {
			return nil, types.WrapError(types.ErrIo, err)
		}
		for rows.Next() {
			var key string
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, types.WrapError(types.ErrIo, err)
			}
			dest[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, types.WrapError(types.ErrIo, err)
		}
		rows.Close()
	}
	return st, nil
}

// inTx runs fn inside a transaction, committing on nil and rolling
// back on error.
func (ix *Index) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		var ce *types.ChainError
		if errors.As(err, &ce) {
			return err
		}
		return types.WrapError(types.ErrIo, err)
	}
	if err := tx.Commit(); err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}
