// Package journal implements the append-only signed log at the core of
// a chain: one canonically encoded entry per line in chain.jsonl, a
// small head file publishing the current tail, and a recovery scan that
// truncates torn tails so no partial append is ever observable.
//
// The journal does not take the writer lock itself; the chain layer
// holds the advisory flock for the duration of every write path and the
// journal assumes Append is only reached under it. Readers never lock:
// append-then-fsync-then-publish-head means a reader that observes a
// given head observes all prior entries fully.
package journal

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/canonical"
	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const (
	FileName     = "chain.jsonl"
	HeadFileName = "head"
)

// Head is the published tail pointer: the seq of the last entry and the
// digest of its canonical encoding.
type Head struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// Journal is an open chain log bound to one writer identity.
type Journal struct {
	dir     string
	path    string
	public  ed25519.PublicKey
	private ed25519.PrivateKey // nil for read-only opens

	head    Head
	empty   bool
	offsets []int64 // byte offset of each entry line, loaded at open

	// corruptAt is the seq of the first invalid mid-file entry found at
	// open, or -1. A torn tail is truncated instead; mid-file damage is
	// preserved so verify can locate and report it, and appends refuse
	// to build on top of it.
	corruptAt int64
}

// Open loads the journal in dir, runs the recovery scan, and publishes
// a consistent head. priv may be nil for read-only use; pub is required
// so recovery can verify signatures on the tail.
func Open(dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Journal, error) {
	j := &Journal{
		dir:       dir,
		path:      filepath.Join(dir, FileName),
		public:    pub,
		private:   priv,
		empty:     true,
		corruptAt: -1,
	}
	if err := j.recover(); err != nil {
		return nil, err
	}
	return j, nil
}

// Empty reports whether the chain has no entries yet.
func (j *Journal) Empty() bool { return j.empty }

// Head returns the current tail pointer. Calling Head on an empty
// journal returns seq -1 and the zero digest.
func (j *Journal) Head() Head {
	if j.empty {
		return Head{Seq: -1, Hash: canonical.ZeroDigest}
	}
	return j.head
}

// Append signs and durably appends an entry whose seq, prev_hash and
// signature the journal computes. Caller supplies every other field.
// The returned entry is the exact record written to disk.
func (j *Journal) Append(e *types.Entry) (*types.Entry, error) {
	if j.private == nil {
		return nil, types.NewError(types.ErrSignatureFailed, "journal opened without writer key")
	}
	if j.corruptAt >= 0 {
		return nil, types.NewSeqError(types.ErrCorrupt, j.corruptAt, "journal has invalid entries; run verify and rebuild")
	}

	head := j.Head()
	e.Seq = head.Seq + 1
	e.PrevHash = head.Hash
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Second)

	signing, err := canonical.SigningBytes(e)
	if err != nil {
		return nil, types.WrapError(types.ErrSignatureFailed, err)
	}
	e.Signature = hex.EncodeToString(ed25519.Sign(j.private, signing))

	line, err := canonical.EncodeEntry(e)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, types.WrapError(types.ErrIo, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, types.WrapError(types.ErrIo, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, types.WrapError(types.ErrIo, err)
	}
	if err := f.Close(); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}

	hash, err := canonical.EntryHash(e)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	j.head = Head{Seq: e.Seq, Hash: hash}
	j.empty = false
	j.offsets = append(j.offsets, offset)

	// Head publication is best-effort durable: a crash between the
	// journal fsync and this rename is repaired by the recovery scan.
	if err := j.writeHeadFile(); err != nil {
		return nil, err
	}
	return e, nil
}

// Read returns the entry at seq.
func (j *Journal) Read(seq int64) (*types.Entry, error) {
	if seq < 0 || seq >= int64(len(j.offsets)) {
		return nil, types.NewSeqError(types.ErrUnknownSeq, seq, "beyond head %d", j.Head().Seq)
	}
	f, err := os.Open(j.path)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer f.Close()
	if _, err := f.Seek(j.offsets[seq], io.SeekStart); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	entry, err := canonical.DecodeEntry(bytes.TrimRight(line, "\n"))
	if err != nil {
		return nil, types.NewSeqError(types.ErrCorrupt, seq, "undecodable entry: %v", err)
	}
	if entry.Seq != seq {
		return nil, types.NewSeqError(types.ErrCorrupt, seq, "entry carries seq %d", entry.Seq)
	}
	return entry, nil
}

// Scan streams entries from seq `from` through `to` inclusive. A
// negative `to` means the current head. fn returning an error stops
// the scan and surfaces that error.
func (j *Journal) Scan(from, to int64, fn func(*types.Entry) error) error {
	if to < 0 {
		to = j.Head().Seq
	}
	if from < 0 {
		from = 0
	}
	if from > to {
		return nil
	}
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.WrapError(types.ErrIo, err)
	}
	defer f.Close()
	if from < int64(len(j.offsets)) {
		if _, err := f.Seek(j.offsets[from], io.SeekStart); err != nil {
			return types.WrapError(types.ErrIo, err)
		}
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	seq := from
	for scanner.Scan() && seq <= to {
		entry, err := canonical.DecodeEntry(scanner.Bytes())
		if err != nil {
			return types.NewSeqError(types.ErrCorrupt, seq, "undecodable entry: %v", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
		seq++
	}
	if err := scanner.Err(); err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}

// RawLines streams the raw journal lines without decoding or verifying.
// The verifier uses this to locate corruption precisely.
func (j *Journal) RawLines(fn func(seq int64, line []byte) error) error {
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.WrapError(types.ErrIo, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var seq int64
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if err := fn(seq, line); err != nil {
			return err
		}
		seq++
	}
	if err := scanner.Err(); err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}

// VerifySignature checks an entry's signature against the chain's
// public key.
func (j *Journal) VerifySignature(e *types.Entry) error {
	return VerifySignature(j.public, e)
}

// VerifySignature checks e's ed25519 signature against pub.
func VerifySignature(pub ed25519.PublicKey, e *types.Entry) error {
	signing, err := canonical.SigningBytes(e)
	if err != nil {
		return types.WrapError(types.ErrSignatureFailed, err)
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return types.NewSeqError(types.ErrSignatureFailed, e.Seq, "malformed signature")
	}
	if !ed25519.Verify(pub, signing, sig) {
		return types.NewSeqError(types.ErrSignatureFailed, e.Seq, "signature does not verify")
	}
	return nil
}

// recover scans the log from the start, verifying framing, linkage and
// signatures. A torn tail (an unterminated or undecodable final
// segment, the signature of a crash mid-append) is truncated at the
// last fully valid entry. Anything else invalid is preserved on disk
// and remembered as corruption so verify can locate and report it;
// only the valid prefix is readable and appends are refused. An intact
// journal is left byte-identical.
func (j *Journal) recover() error {
	raw, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			j.empty = true
			return j.writeHeadFile()
		}
		return types.WrapError(types.ErrIo, err)
	}

	var (
		offsets  []int64
		offset   int64
		goodEnd  int64
		prevHash = canonical.ZeroDigest
		lastSeq  = int64(-1)
		truncate = false
	)
	for offset < int64(len(raw)) {
		nl := bytes.IndexByte(raw[offset:], '\n')
		if nl < 0 {
			// unterminated final segment: torn append
			truncate = true
			break
		}
		line := raw[offset : offset+int64(nl)]
		entry, decodeErr := canonical.DecodeEntry(line)
		if decodeErr != nil {
			if offset+int64(nl)+1 == int64(len(raw)) {
				// undecodable final line: torn append
				truncate = true
			} else {
				j.corruptAt = lastSeq + 1
			}
			break
		}
		if entry.Seq != lastSeq+1 || entry.PrevHash != prevHash {
			j.corruptAt = lastSeq + 1
			break
		}
		if err := VerifySignature(j.public, entry); err != nil {
			j.corruptAt = lastSeq + 1
			break
		}
		hash, err := canonical.EntryHash(entry)
		if err != nil {
			j.corruptAt = lastSeq + 1
			break
		}
		offsets = append(offsets, offset)
		offset += int64(nl) + 1
		goodEnd = offset
		prevHash = hash
		lastSeq = entry.Seq
	}
	if truncate {
		if err := os.Truncate(j.path, goodEnd); err != nil {
			return types.WrapError(types.ErrIo, err)
		}
	}

	j.offsets = offsets
	if lastSeq < 0 {
		j.empty = true
		return j.writeHeadFile()
	}
	j.empty = false
	j.head = Head{Seq: lastSeq, Hash: prevHash}
	return j.writeHeadFile()
}

func (j *Journal) writeHeadFile() error {
	head := j.Head()
	raw, err := json.Marshal(head)
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	path := filepath.Join(j.dir, HeadFileName)
	tmp, err := os.CreateTemp(j.dir, ".head-*")
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.WrapError(types.ErrIo, err)
	}
	return nil
}
