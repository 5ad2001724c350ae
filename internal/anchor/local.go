package anchor

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const notaryFile = "local-notary.jsonl"

// LocalProvider is a file-backed notary: every submission appends a
// timestamped line to an audit file outside the chain journal, and
// verification confirms a receipt once its hash is present there. It
// exercises the full provider contract without any network, which
// makes it the default backend for air-gapped deployments.
type LocalProvider struct {
	dir string
}

// NewLocal builds the notary writing under dir (normally the chain's
// anchors/ directory).
func NewLocal(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

func (l *LocalProvider) Tag() string { return "local" }

type notaryLine struct {
	Seq       int64     `json:"seq"`
	EntryHash string    `json:"entry_hash"`
	NotedAt   time.Time `json:"noted_at"`
}

func (l *LocalProvider) path() string {
	return filepath.Join(l.dir, notaryFile)
}

func (l *LocalProvider) Submit(_ context.Context, seq int64, entryHash string) (*SubmitResult, error) {
	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer f.Close()
	raw, err := json.Marshal(notaryLine{Seq: seq, EntryHash: entryHash, NotedAt: time.Now().UTC()})
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	if err := f.Sync(); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return &SubmitResult{Success: true, Provider: l.Tag(), ProofRef: notaryFile}, nil
}

func (l *LocalProvider) Verify(_ context.Context, receipt *types.Receipt) (*VerifyResult, error) {
	f, err := os.Open(l.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &VerifyResult{Valid: false, Status: types.ReceiptFailed, Error: "notary file missing"}, nil
		}
		return nil, types.WrapError(types.ErrIo, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line notaryLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.EntryHash == receipt.EntryHash && line.Seq == receipt.Seq {
			ts := line.NotedAt
			return &VerifyResult{Valid: true, Status: types.ReceiptConfirmed, Timestamp: &ts}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	return &VerifyResult{Valid: false, Status: types.ReceiptFailed, Error: "hash not present in notary file"}, nil
}

func (l *LocalProvider) Available(context.Context) bool {
	info, err := os.Stat(l.dir)
	return err == nil && info.IsDir()
}

func (l *LocalProvider) EstimateCost(_ context.Context, _ int) (Cost, error) {
	return Cost{Fee: 0, Available: l.Available(context.Background())}, nil
}
