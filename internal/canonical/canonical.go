// Package canonical produces the deterministic byte encoding of chain
// entries used for hashing and signing, and the payload normalization
// applied before content addressing.
//
// Field order is fixed by struct declaration order and never changes:
// seq, prev_hash, content_hash, payload_ref, entry_kind, tier,
// created_at, provenance, links, signature. Encoding is single-line
// JSON with no HTML escaping and no whitespace variation; hash and
// signature values are lowercase hex. The signed bytes are the same
// encoding with the signature field absent.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// ZeroDigest is the prev_hash of the genesis entry.
const ZeroDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// NormalizeText applies the payload normalization contract: UTF-8 NFC
// and trailing-newline trimming. Benign re-encodings of the same text
// therefore hash to the same digest.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimRight(s, "\n")
}

// NormalizeString NFC-normalizes a short metadata string without
// touching whitespace.
func NormalizeString(s string) string {
	return norm.NFC.String(s)
}

// ContentDigest hashes a normalized payload to its lowercase hex
// content address.
func ContentDigest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// header mirrors types.Entry minus the signature; its marshalled form
// is the exact byte sequence that gets signed.
type header struct {
	Seq         int64            `json:"seq"`
	PrevHash    string           `json:"prev_hash"`
	ContentHash string           `json:"content_hash"`
	PayloadRef  string           `json:"payload_ref"`
	Kind        types.EntryKind  `json:"entry_kind"`
	Tier        types.Tier       `json:"tier"`
	CreatedAt   string           `json:"created_at"`
	Provenance  types.Provenance `json:"provenance"`
	Links       types.Links      `json:"links"`
}

type wireEntry struct {
	header
	Signature string `json:"signature"`
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder terminates with a newline; the journal frames lines itself
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func headerOf(e *types.Entry) header {
	return header{
		Seq:         e.Seq,
		PrevHash:    e.PrevHash,
		ContentHash: e.ContentHash,
		PayloadRef:  e.PayloadRef,
		Kind:        e.Kind,
		Tier:        e.Tier,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		Provenance:  e.Provenance,
		Links:       e.Links,
	}
}

// SigningBytes encodes every field preceding the signature. This is
// what the writer key signs and what the signature verifies against.
func SigningBytes(e *types.Entry) ([]byte, error) {
	return marshalCompact(headerOf(e))
}

// EncodeEntry produces the full single-line wire encoding, signature
// included. The journal appends exactly these bytes plus "\n".
func EncodeEntry(e *types.Entry) ([]byte, error) {
	return marshalCompact(wireEntry{header: headerOf(e), Signature: e.Signature})
}

// EntryHash is the digest of the full canonical encoding; entry i+1
// carries it as prev_hash.
func EntryHash(e *types.Entry) (string, error) {
	raw, err := EncodeEntry(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeEntry parses one journal line back into an entry. It round-trips
// with EncodeEntry for every entry kind.
func DecodeEntry(line []byte) (*types.Entry, error) {
	var w wireEntry
	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	created, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &types.Entry{
		Seq:         w.Seq,
		PrevHash:    w.PrevHash,
		ContentHash: w.ContentHash,
		PayloadRef:  w.PayloadRef,
		Kind:        w.Kind,
		Tier:        w.Tier,
		CreatedAt:   created.UTC(),
		Provenance:  w.Provenance,
		Links:       w.Links,
		Signature:   w.Signature,
	}, nil
}
