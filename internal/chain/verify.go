package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/SeMmyT/openclaw-memory-chain/internal/canonical"
	"github.com/SeMmyT/openclaw-memory-chain/internal/content"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// Invariant names the chain rule a verification failure violated.
type Invariant string

const (
	InvariantFraming   Invariant = "framing"
	InvariantSeq       Invariant = "seq"
	InvariantPrevHash  Invariant = "prev_hash"
	InvariantSignature Invariant = "signature"
	InvariantBlobHash  Invariant = "blob_hash"
	InvariantLinks     Invariant = "links"
	InvariantBlocks    Invariant = "block_lineage"
)

// Failure locates one invariant violation.
type Failure struct {
	Seq       int64     `json:"seq"`
	Invariant Invariant `json:"invariant"`
	Detail    string    `json:"detail"`
}

// Report is the result of a full-chain walk. The first failure
// is authoritative; later anomalies are only counted, since corruption
// tends to cascade past the first bad entry.
type Report struct {
	Entries      int64     `json:"entries"`
	OK           bool      `json:"ok"`
	FirstFailure *Failure  `json:"first_failure,omitempty"`
	Failures     []Failure `json:"failures,omitempty"`
}

// Verify walks the journal from seq 0 to head and checks every chain
// invariant: framing, gap-free seqs, prev-hash linkage, signatures,
// blob digests, supersedes targets and block lineage.
func (c *Chain) Verify(ctx context.Context) (*Report, error) {
	report := &Report{OK: true}

	// Collect redaction targets first: their blobs legitimately no
	// longer hash to the recorded digest.
	redacted := map[int64]bool{}
	_ = c.journal.RawLines(func(seq int64, line []byte) error {
		entry, err := canonical.DecodeEntry(line)
		if err != nil {
			return nil
		}
		if entry.Kind == types.KindRedaction {
			for _, t := range entry.Links.Supersedes {
				redacted[t] = true
			}
		}
		return nil
	})

	var (
		prevHash   = canonical.ZeroDigest
		expectSeq  int64
		blockVer   = map[types.BlockLabel]map[int64]int{}
		seenBlocks = map[int64]types.BlockLabel{}
	)
	fail := func(seq int64, inv Invariant, format string, args ...any) {
		f := Failure{Seq: seq, Invariant: inv, Detail: fmt.Sprintf(format, args...)}
		if report.FirstFailure == nil {
			report.FirstFailure = &f
		}
		report.Failures = append(report.Failures, f)
		report.OK = false
	}

	err := c.journal.RawLines(func(seq int64, line []byte) error {
		if ctx.Err() != nil {
			return types.WrapError(types.ErrIo, ctx.Err())
		}
		entry, err := canonical.DecodeEntry(line)
		if err != nil {
			fail(seq, InvariantFraming, "undecodable entry: %v", err)
			return nil
		}
		report.Entries++

		if entry.Seq != expectSeq {
			fail(seq, InvariantSeq, "carries seq %d, expected %d", entry.Seq, expectSeq)
		}
		if entry.PrevHash != prevHash {
			fail(seq, InvariantPrevHash, "prev_hash does not match predecessor digest")
		}
		if err := c.journal.VerifySignature(entry); err != nil {
			fail(seq, InvariantSignature, "signature does not verify")
		}

		if !redacted[seq] {
			text, err := c.store.Get(entry.ContentHash)
			if err != nil {
				fail(seq, InvariantBlobHash, "blob missing for digest %s", entry.ContentHash)
			} else if text != content.RedactionSentinel && canonical.ContentDigest(text) != entry.ContentHash {
				fail(seq, InvariantBlobHash, "blob does not hash to content_hash")
			}
		}

		for _, s := range entry.Links.Supersedes {
			if s < 0 || s >= entry.Seq {
				fail(seq, InvariantLinks, "supersedes %d, not an earlier entry", s)
			}
		}

		if entry.Kind == types.KindBlock {
			label := entry.Links.BlockLabel
			if !types.ValidBlockLabel(label) {
				fail(seq, InvariantBlocks, "unknown block label %q", label)
			}
			if entry.Links.PrevBlockSeq != nil {
				p := *entry.Links.PrevBlockSeq
				if p < 0 || p >= entry.Seq {
					fail(seq, InvariantBlocks, "prev_block_seq %d is not an earlier entry", p)
				} else if prevLabel, ok := seenBlocks[p]; !ok || prevLabel != label {
					fail(seq, InvariantBlocks, "prev_block_seq %d is not a %q block entry", p, label)
				} else if entry.Links.BlockVersion != blockVer[label][p]+1 {
					fail(seq, InvariantBlocks, "block_version %d does not follow predecessor", entry.Links.BlockVersion)
				}
			} else if entry.Links.BlockVersion != 1 {
				fail(seq, InvariantBlocks, "first %q block must be version 1", label)
			}
			seenBlocks[entry.Seq] = label
			if blockVer[label] == nil {
				blockVer[label] = map[int64]int{}
			}
			blockVer[label][entry.Seq] = entry.Links.BlockVersion
		}

		hash, err := canonical.EntryHash(entry)
		if err == nil {
			prevHash = hash
		}
		expectSeq = entry.Seq + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RebuildIndex drops the projection and replays the journal through
// the same apply path commits use, then repopulates the anchors
// projection from the sidecar files (which rebuild never touches).
func (c *Chain) RebuildIndex(ctx context.Context) error {
	if err := c.index.Reset(ctx); err != nil {
		return err
	}
	if err := c.journal.Scan(0, -1, func(e *types.Entry) error {
		return c.index.Apply(ctx, e, c.payloadFor(e))
	}); err != nil {
		return err
	}
	receipts, err := c.anchors.Status(-1)
	if err != nil {
		return err
	}
	for i := range receipts {
		if err := c.index.PutReceipt(ctx, &receipts[i]); err != nil {
			return err
		}
	}
	return nil
}

// ExportFormat selects the export rendering.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
)

// Export streams every entry, with its payload, to w.
func (c *Chain) Export(ctx context.Context, w io.Writer, format ExportFormat) error {
	switch format {
	case ExportJSON:
		return c.exportJSON(ctx, w)
	case ExportMarkdown:
		return c.exportMarkdown(ctx, w)
	default:
		return types.NewError(types.ErrInvalidInput, "unknown export format %q", format)
	}
}

type exportRecord struct {
	*types.Entry
	Content string `json:"content"`
}

func (c *Chain) exportJSON(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)
	return c.journal.Scan(0, -1, func(e *types.Entry) error {
		if ctx.Err() != nil {
			return types.WrapError(types.ErrIo, ctx.Err())
		}
		text, err := c.store.Get(e.ContentHash)
		if err != nil {
			text = ""
		}
		return enc.Encode(exportRecord{Entry: e, Content: text})
	})
}

func (c *Chain) exportMarkdown(ctx context.Context, w io.Writer) error {
	return c.journal.Scan(0, -1, func(e *types.Entry) error {
		if ctx.Err() != nil {
			return types.WrapError(types.ErrIo, ctx.Err())
		}
		text, err := c.store.Get(e.ContentHash)
		if err != nil {
			text = ""
		}
		if _, err := fmt.Fprintf(w, "## %d · %s · %s\n\n", e.Seq, e.Kind, e.CreatedAt.Format("2006-01-02 15:04:05")); err != nil {
			return types.WrapError(types.ErrIo, err)
		}
		if len(e.Links.Supersedes) > 0 {
			if _, err := fmt.Fprintf(w, "supersedes: %v\n\n", e.Links.Supersedes); err != nil {
				return types.WrapError(types.ErrIo, err)
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", text); err != nil {
			return types.WrapError(types.ErrIo, err)
		}
		return nil
	})
}
