package canonical

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

func sampleEntry(kind types.EntryKind) *types.Entry {
	prev := int64(3)
	e := &types.Entry{
		Seq:         7,
		PrevHash:    strings.Repeat("ab", 32),
		ContentHash: strings.Repeat("cd", 32),
		PayloadRef:  strings.Repeat("cd", 32),
		Kind:        kind,
		Tier:        types.TierCommitted,
		CreatedAt:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		Provenance: types.Provenance{
			Source:     types.SourceManual,
			Trigger:    "conversation",
			Importance: 0.8,
			EmotionTag: "calm",
		},
		Links: types.Links{
			RelatedEntities: []string{"Sam"},
			IsCore:          true,
		},
		Signature: strings.Repeat("ef", 64),
	}
	switch kind {
	case types.KindConsolidation:
		e.Links.Supersedes = []int64{1, 2}
	case types.KindBlock:
		e.Links.BlockLabel = types.BlockPersona
		e.Links.BlockVersion = 2
		e.Links.PrevBlockSeq = &prev
	}
	return e
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kinds := []types.EntryKind{
		types.KindMemory, types.KindIdentity, types.KindDecision,
		types.KindRedaction, types.KindConsolidation, types.KindBlock,
	}
	for _, kind := range kinds {
		entry := sampleEntry(kind)
		raw, err := EncodeEntry(entry)
		if err != nil {
			t.Fatalf("%s: encode: %v", kind, err)
		}
		decoded, err := DecodeEntry(raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", kind, err)
		}
		reencoded, err := EncodeEntry(decoded)
		if err != nil {
			t.Fatalf("%s: re-encode: %v", kind, err)
		}
		if !bytes.Equal(raw, reencoded) {
			t.Errorf("%s: round trip not byte-identical:\n%s\n%s", kind, raw, reencoded)
		}
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := EncodeEntry(sampleEntry(types.KindMemory))
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeEntry(sampleEntry(types.KindMemory))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same entry encoded differently across calls")
	}
	if bytes.ContainsRune(a, '\n') {
		t.Error("encoding contains a newline; journal framing would break")
	}
}

func TestFieldOrder(t *testing.T) {
	raw, err := EncodeEntry(sampleEntry(types.KindMemory))
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{
		`"seq"`, `"prev_hash"`, `"content_hash"`, `"payload_ref"`,
		`"entry_kind"`, `"tier"`, `"created_at"`, `"provenance"`, `"links"`, `"signature"`,
	}
	last := -1
	for _, field := range wantOrder {
		idx := bytes.Index(raw, []byte(field))
		if idx < 0 {
			t.Fatalf("field %s missing from encoding", field)
		}
		if idx < last {
			t.Errorf("field %s out of order", field)
		}
		last = idx
	}
}

func TestSigningBytesExcludeSignature(t *testing.T) {
	entry := sampleEntry(types.KindMemory)
	signing, err := SigningBytes(entry)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(signing, []byte(`"signature"`)) {
		t.Error("signing bytes include the signature field")
	}

	tampered := sampleEntry(types.KindMemory)
	tampered.Signature = strings.Repeat("00", 64)
	signing2, err := SigningBytes(tampered)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(signing, signing2) {
		t.Error("signature value changed the signing bytes")
	}
}

func TestNormalizeText(t *testing.T) {
	// NFD "é" (e + combining acute) must normalize to the NFC form
	nfd := "cafe\u0301"
	nfc := "caf\u00e9"
	if NormalizeText(nfd) != nfc {
		t.Errorf("NFD input not normalized: %q", NormalizeText(nfd))
	}
	if NormalizeText("hello\n\n") != "hello" {
		t.Errorf("trailing newlines not trimmed: %q", NormalizeText("hello\n\n"))
	}
	if ContentDigest(NormalizeText(nfd)) != ContentDigest(nfc) {
		t.Error("benign re-encoding produced a different digest")
	}
}

func TestZeroDigestShape(t *testing.T) {
	if len(ZeroDigest) != 64 {
		t.Errorf("zero digest is %d hex chars, want 64", len(ZeroDigest))
	}
	if strings.Trim(ZeroDigest, "0") != "" {
		t.Error("zero digest is not all zeros")
	}
}

func TestEntryHashChangesWithContent(t *testing.T) {
	a := sampleEntry(types.KindMemory)
	b := sampleEntry(types.KindMemory)
	b.ContentHash = strings.Repeat("ee", 32)

	ha, err := EntryHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := EntryHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha == hb {
		t.Error("different entries hash identically")
	}
	if len(ha) != 64 {
		t.Errorf("hash is %d hex chars, want 64", len(ha))
	}
}
