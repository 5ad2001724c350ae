package chain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/SeMmyT/openclaw-memory-chain/internal/anchor"
	"github.com/SeMmyT/openclaw-memory-chain/internal/canonical"
	"github.com/SeMmyT/openclaw-memory-chain/internal/journal"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

var t0 = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return t0 }
	return opts
}

func setupChain(t *testing.T) (*Chain, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chain")
	c, err := Init(context.Background(), dir, testOptions())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, dir
}

func commit(t *testing.T, c *Chain, text string, importance float64) *CommitResult {
	t.Helper()
	result, err := c.Commit(context.Background(), CommitInput{
		Content:    text,
		Provenance: types.Provenance{Importance: importance},
	})
	if err != nil {
		t.Fatalf("commit %q: %v", text, err)
	}
	return result
}

// S1: init, add, verify, recall.
func TestFirstCommit(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	result := commit(t, c, "user prefers dark mode", 0.8)
	if result.Seq != 0 {
		t.Errorf("first commit seq %d, want 0", result.Seq)
	}

	entry, err := c.Journal().Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != canonical.ZeroDigest {
		t.Errorf("genesis prev_hash %s", entry.PrevHash)
	}
	if err := c.Journal().VerifySignature(entry); err != nil {
		t.Errorf("signature: %v", err)
	}

	report, err := c.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Fatalf("verify failed: %+v", report.FirstFailure)
	}

	results, err := c.Recall(ctx, types.RecallOptions{Query: "dark"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Seq != 0 {
		t.Errorf("recall: %+v", results)
	}
}

// S2: rethink consolidates three entries.
func TestRethink(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "A", 0.5)
	commit(t, c, "B", 0.5)
	commit(t, c, "C", 0.5)

	result, err := c.Rethink(ctx, []int64{0, 1, 2}, "A+B+C unified", "")
	if err != nil {
		t.Fatal(err)
	}
	if result.ConsolidationSeq != 3 || result.SupersededCount != 3 {
		t.Errorf("rethink result: %+v", result)
	}

	for seq := int64(0); seq < 3; seq++ {
		row, err := c.Index().Row(ctx, seq)
		if err != nil {
			t.Fatal(err)
		}
		if !row.IsSuperseded {
			t.Errorf("seq %d not superseded", seq)
		}
	}

	results, err := c.Recall(ctx, types.RecallOptions{Query: "unified"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Seq != 3 {
		t.Errorf("default recall: %+v", results)
	}

	results, err = c.Recall(ctx, types.RecallOptions{Query: "A", IncludeSuperseded: true})
	if err != nil {
		t.Fatal(err)
	}
	var seqs []int64
	for _, r := range results {
		seqs = append(seqs, r.Seq)
	}
	if len(seqs) != 2 {
		t.Errorf("recall with superseded: %v", seqs)
	}
}

func TestRethinkValidation(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()
	commit(t, c, "fact", 0.5)

	if _, err := c.Rethink(ctx, []int64{5}, "new", ""); types.KindOf(err) != types.ErrUnknownSeq {
		t.Errorf("unknown seq: %v", err)
	}
	if _, err := c.Rethink(ctx, []int64{0, 0}, "new", ""); types.KindOf(err) != types.ErrInvalidInput {
		t.Errorf("duplicate targets: %v", err)
	}
	if _, err := c.Rethink(ctx, nil, "new", ""); types.KindOf(err) != types.ErrInvalidInput {
		t.Errorf("empty list: %v", err)
	}

	if _, err := c.Redact(ctx, 0, "cleanup"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Rethink(ctx, []int64{1}, "new", ""); types.KindOf(err) != types.ErrInvalidInput {
		t.Errorf("superseding a redaction: %v", err)
	}
}

// S3: block versions.
func TestBlockUpdate(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	first, err := c.BlockUpdate(ctx, types.BlockPersona, "I am a careful assistant", true)
	if err != nil {
		t.Fatal(err)
	}
	if first.Version != 1 {
		t.Errorf("first version %d", first.Version)
	}

	second, err := c.BlockUpdate(ctx, types.BlockPersona, "I am a meticulous assistant", true)
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != 2 {
		t.Errorf("second version %d", second.Version)
	}

	latest, err := c.Index().BlockLatest(ctx, types.BlockPersona)
	if err != nil {
		t.Fatal(err)
	}
	if latest != second.Seq {
		t.Errorf("block latest %d, want %d", latest, second.Seq)
	}

	row, err := c.Index().Row(ctx, first.Seq)
	if err != nil {
		t.Fatal(err)
	}
	if !row.IsSuperseded || *row.SupersededBy != second.Seq {
		t.Error("first block version not superseded by second")
	}

	entry, err := c.Journal().Read(second.Seq)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Links.PrevBlockSeq == nil || *entry.Links.PrevBlockSeq != first.Seq {
		t.Error("second block does not link its predecessor")
	}

	report, err := c.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Errorf("verify failed: %+v", report.FirstFailure)
	}
}

// S4: crash between journal append and index update, then forward-roll.
func TestForwardRollAfterCrash(t *testing.T) {
	c, dir := setupChain(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		commit(t, c, "entry "+strings.Repeat("x", i+1), 0.5)
	}

	// simulate the crash: append the 5th entry to the journal only
	digest, err := c.store.Put("the fifth entry")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.journal.Append(&types.Entry{
		ContentHash: digest,
		PayloadRef:  digest,
		Kind:        types.KindMemory,
		Tier:        types.TierEphemeral,
		CreatedAt:   t0,
		Provenance:  types.Provenance{Source: types.SourceManual, Importance: 0.5},
	}); err != nil {
		t.Fatal(err)
	}
	c.Close()

	reopened, err := Open(ctx, dir, testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	head, err := reopened.Index().Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head != 4 {
		t.Errorf("index head %d after forward-roll, want 4", head)
	}

	st, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 5 {
		t.Errorf("stats entries %d, want 5", st.Entries)
	}

	report, err := reopened.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Errorf("verify failed: %+v", report.FirstFailure)
	}
}

// S5: tamper with the journal, verify locates the damage.
func TestVerifyDetectsTamper(t *testing.T) {
	c, dir := setupChain(t)
	ctx := context.Background()

	commit(t, c, "entry zero", 0.5)
	commit(t, c, "entry one", 0.5)
	commit(t, c, "entry two", 0.5)
	c.Close()

	path := filepath.Join(dir, journal.FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitAfter(string(raw), "\n")
	// flip one character of entry 2's recorded content_hash
	idx := strings.Index(lines[2], `"content_hash":"`) + len(`"content_hash":"`)
	tampered := []byte(lines[2])
	if tampered[idx] == 'a' {
		tampered[idx] = 'b'
	} else {
		tampered[idx] = 'a'
	}
	lines[2] = string(tampered)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, dir, testOptions())
	if err != nil {
		t.Fatalf("open over tampered chain: %v", err)
	}
	defer reopened.Close()

	report, err := reopened.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("verify passed over a tampered chain")
	}
	if report.FirstFailure.Seq != 2 {
		t.Errorf("first failure at seq %d, want 2", report.FirstFailure.Seq)
	}
	if inv := report.FirstFailure.Invariant; inv != InvariantSignature && inv != InvariantBlobHash {
		t.Errorf("first failure invariant %s", inv)
	}
}

// S6: mock backend receipt lifecycle.
func TestAnchorLifecycle(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()
	c.Anchors().Register(anchor.NewMock())

	commit(t, c, "anchored fact", 0.5)

	receipt, err := c.Anchor(ctx, "mock", -1)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptPending || receipt.Seq != 0 {
		t.Errorf("receipt after submit: %+v", receipt)
	}

	// first pass: backend still pending
	if _, err := c.UpgradeAnchors(ctx); err != nil {
		t.Fatal(err)
	}
	receipts, err := c.Anchors().Status(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 || receipts[0].Status != types.ReceiptPending {
		t.Errorf("after first pass: %+v", receipts)
	}

	// second pass confirms
	if _, err := c.UpgradeAnchors(ctx); err != nil {
		t.Fatal(err)
	}
	receipts, err = c.Anchors().Status(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 || receipts[0].Status != types.ReceiptConfirmed {
		t.Fatalf("after second pass: %+v", receipts)
	}
	if receipts[0].BlockNumber == 0 {
		t.Error("confirmed receipt has no block metadata")
	}

	// a further pass is a no-op
	n, err := c.UpgradeAnchors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("third pass upgraded %d receipts", n)
	}
}

func TestAnchorReceiptsSurviveRebuild(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "fact to anchor", 0.5)
	if _, err := c.Anchor(ctx, "local", -1); err != nil {
		t.Fatal(err)
	}

	if err := c.RebuildIndex(ctx); err != nil {
		t.Fatal(err)
	}
	receipts, err := c.Anchors().Status(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 {
		t.Errorf("receipts after rebuild: %+v", receipts)
	}
}

func TestRedactKeepsChainVerifiable(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "secret that must go", 0.5)
	commit(t, c, "harmless fact", 0.5)

	result, err := c.Redact(ctx, 0, "contains a secret")
	if err != nil {
		t.Fatal(err)
	}
	if result.Seq != 2 {
		t.Errorf("redaction entry at seq %d", result.Seq)
	}

	info, err := c.Introspect(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(info.Content, "secret") {
		t.Error("payload survived redaction")
	}

	report, err := c.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Errorf("verify failed after redaction: %+v", report.FirstFailure)
	}

	// the redacted entry drops out of recall
	results, err := c.Recall(ctx, types.RecallOptions{Query: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("recall found redacted entry: %+v", results)
	}
}

func TestRebuildMatchesCommitStream(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "alpha", 0.3)
	commit(t, c, "beta", 0.9)
	if _, err := c.Rethink(ctx, []int64{0}, "alpha revisited", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.BlockUpdate(ctx, types.BlockGoals, "ship it", true); err != nil {
		t.Fatal(err)
	}

	before := map[int64]types.IndexRow{}
	for seq := int64(0); seq <= 3; seq++ {
		row, err := c.Index().Row(ctx, seq)
		if err != nil {
			t.Fatal(err)
		}
		before[seq] = *row
	}

	if err := c.RebuildIndex(ctx); err != nil {
		t.Fatal(err)
	}

	for seq := int64(0); seq <= 3; seq++ {
		row, err := c.Index().Row(ctx, seq)
		if err != nil {
			t.Fatal(err)
		}
		want := before[seq]
		if row.Kind != want.Kind || row.IsSuperseded != want.IsSuperseded ||
			row.BlockLabel != want.BlockLabel || row.IsCore != want.IsCore {
			t.Errorf("seq %d differs after rebuild: %+v vs %+v", seq, row, want)
		}
	}

	latest, err := c.Index().BlockLatest(ctx, types.BlockGoals)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 3 {
		t.Errorf("block latest %d after rebuild", latest)
	}
}

func TestCommitValidation(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CommitInput
	}{
		{"empty content", CommitInput{Content: "\n\n"}},
		{"bad kind", CommitInput{Content: "x", Kind: "wish"}},
		{"reserved kind", CommitInput{Content: "x", Kind: types.KindConsolidation}},
		{"bad tier", CommitInput{Content: "x", Tier: "forever"}},
		{"importance high", CommitInput{Content: "x", Provenance: types.Provenance{Importance: 1.5}}},
		{"importance low", CommitInput{Content: "x", Provenance: types.Provenance{Importance: -0.1}}},
		{"bad source", CommitInput{Content: "x", Provenance: types.Provenance{Source: "dream"}}},
	}
	for _, tc := range cases {
		if _, err := c.Commit(ctx, tc.in); types.KindOf(err) != types.ErrInvalidInput {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}

	// no side effects from failed validation
	if head := c.Journal().Head().Seq; head != -1 {
		t.Errorf("failed commits appended entries: head %d", head)
	}
}

func TestSeqGapFree(t *testing.T) {
	c, _ := setupChain(t)

	for i := 0; i < 20; i++ {
		result := commit(t, c, strings.Repeat("m", i+1), 0.5)
		if result.Seq != int64(i) {
			t.Fatalf("commit %d got seq %d", i, result.Seq)
		}
	}
}

func TestRecallBudgetsTokens(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	long := strings.Repeat("budget words ", 100)
	commit(t, c, long+"one", 0.5)
	commit(t, c, long+"two", 0.5)

	results, err := c.Recall(ctx, types.RecallOptions{Query: "budget", MaxTokens: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("budget admitted %d results, want 1", len(results))
	}
}

func TestRecallTouchesReturnedRows(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "touched fact", 0.5)
	if _, err := c.Recall(ctx, types.RecallOptions{Query: "touched"}); err != nil {
		t.Fatal(err)
	}

	row, err := c.Index().Row(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if row.AccessCount != 1 {
		t.Errorf("access count %d after recall", row.AccessCount)
	}

	// introspect must not touch
	if _, err := c.Introspect(ctx, 0); err != nil {
		t.Fatal(err)
	}
	row, _ = c.Index().Row(ctx, 0)
	if row.AccessCount != 1 {
		t.Errorf("introspect touched the row: %d", row.AccessCount)
	}
}

func TestDedupSharesBlobs(t *testing.T) {
	c, _ := setupChain(t)

	r1 := commit(t, c, "identical content", 0.5)
	r2 := commit(t, c, "identical content\n", 0.5)
	if r1.ContentHash != r2.ContentHash {
		t.Error("normalized duplicates got different digests")
	}
	if r1.Seq == r2.Seq {
		t.Error("duplicate content must still be distinct entries")
	}
}

func TestExportJSON(t *testing.T) {
	c, _ := setupChain(t)
	ctx := context.Background()

	commit(t, c, "export me", 0.5)

	var buf strings.Builder
	if err := c.Export(ctx, &buf, ExportJSON); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"export me"`) || !strings.Contains(out, `"seq":0`) {
		t.Errorf("export output: %s", out)
	}

	buf.Reset()
	if err := c.Export(ctx, &buf, ExportMarkdown); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "export me") {
		t.Errorf("markdown export: %s", buf.String())
	}
}
