// Package anchor maintains the registry of external timestamping
// backends and the per-provider receipt sidecars that record every
// submission and its eventual confirmation.
//
// Providers are keyed by a short tag and registered idempotently. The
// core never awaits a backend on a write path: submit returns once a
// pending receipt is durably in the sidecar, and a later upgrade pass
// moves pending receipts to their terminal state.
package anchor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// SubmitResult is a backend's answer to an anchor submission.
type SubmitResult struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider"`
	ProofRef string `json:"tx_or_proof_ref,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifyResult is a backend's answer to a receipt verification.
type VerifyResult struct {
	Valid       bool                `json:"valid"`
	Status      types.ReceiptStatus `json:"status"`
	BlockNumber int64               `json:"block_number,omitempty"`
	Timestamp   *time.Time          `json:"timestamp,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Cost is a backend's fee estimate for anchoring count entries.
type Cost struct {
	Fee       float64 `json:"fee"`
	Available bool    `json:"available"`
}

// Provider is the contract every anchoring backend implements. Calls
// may do network I/O; the registry bounds them with a timeout.
type Provider interface {
	Tag() string
	Submit(ctx context.Context, seq int64, entryHash string) (*SubmitResult, error)
	Verify(ctx context.Context, receipt *types.Receipt) (*VerifyResult, error)
	Available(ctx context.Context) bool
	EstimateCost(ctx context.Context, count int) (Cost, error)
}

// Registry holds the registered providers and owns the sidecar files
// under <chain dir>/anchors/.
type Registry struct {
	dir     string
	timeout time.Duration

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates the registry rooted at the chain directory.
func NewRegistry(chainDir string, timeout time.Duration) (*Registry, error) {
	dir := filepath.Join(chainDir, "anchors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{dir: dir, timeout: timeout, providers: map[string]Provider{}}, nil
}

// Register adds a provider. Registration is idempotent by tag: a later
// registration under the same tag replaces the earlier one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Tag()] = p
}

// Provider looks up a backend by tag.
func (r *Registry) Provider(tag string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[tag]
	if !ok {
		return nil, types.NewError(types.ErrBackendUnavailable, "no anchor provider registered for %q", tag)
	}
	return p, nil
}

// Tags lists the registered provider tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.providers))
	for tag := range r.providers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Submit anchors one entry (identified by seq and its canonical hash)
// with the tagged backend. Exactly one pending receipt is durably in
// the sidecar before Submit returns; a backend failure yields a failed
// receipt instead and never an unpersisted one.
func (r *Registry) Submit(ctx context.Context, tag string, seq int64, entryHash string) (*types.Receipt, error) {
	p, err := r.Provider(tag)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	receipt := &types.Receipt{
		ID:          uuid.NewString(),
		Provider:    tag,
		Seq:         seq,
		EntryHash:   entryHash,
		Status:      types.ReceiptPending,
		SubmittedAt: time.Now().UTC(),
	}

	res, err := p.Submit(callCtx, seq, entryHash)
	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		receipt.Status = types.ReceiptFailed
		receipt.Error = "submit timed out"
	case err != nil:
		receipt.Status = types.ReceiptFailed
		receipt.Error = err.Error()
	case !res.Success:
		receipt.Status = types.ReceiptFailed
		receipt.Error = res.Error
	default:
		receipt.ProofRef = res.ProofRef
	}

	if err := r.appendReceipt(tag, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// Status lists receipts, optionally filtered by seq (negative means
// all) across every provider sidecar.
func (r *Registry) Status(seq int64) ([]types.Receipt, error) {
	var out []types.Receipt
	sidecars, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, types.WrapError(types.ErrIo, err)
	}
	for _, path := range sidecars {
		receipts, err := loadSidecar(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range receipts {
			if seq < 0 || rec.Seq == seq {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Seq != out[k].Seq {
			return out[i].Seq < out[k].Seq
		}
		return out[i].SubmittedAt.Before(out[k].SubmittedAt)
	})
	return out, nil
}

// Upgrade walks every pending receipt and asks its backend to verify.
// Terminal outcomes are written back atomically; pending outcomes are
// left untouched. The pass is idempotent and safe to run concurrently
// with writes and with itself: it holds only the per-provider sidecar
// lock while reading and writing receipts. It returns the number of
// receipts moved to a terminal state.
func (r *Registry) Upgrade(ctx context.Context) (int, error) {
	upgraded := 0
	for _, tag := range r.Tags() {
		n, err := r.upgradeProvider(ctx, tag)
		if err != nil {
			// One backend failing must not block the others.
			continue
		}
		upgraded += n
	}
	return upgraded, nil
}

func (r *Registry) upgradeProvider(ctx context.Context, tag string) (int, error) {
	p, err := r.Provider(tag)
	if err != nil {
		return 0, err
	}
	path := r.sidecarPath(tag)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, types.WrapError(types.ErrIo, err)
	}
	defer func() { _ = lock.Unlock() }()

	receipts, err := loadSidecar(path)
	if err != nil {
		return 0, err
	}

	upgraded := 0
	changed := false
	for i := range receipts {
		if receipts[i].Status != types.ReceiptPending {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := p.Verify(callCtx, &receipts[i])
		cancel()
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				continue // still pending, retry next pass
			}
			now := time.Now().UTC()
			receipts[i].Status = types.ReceiptFailed
			receipts[i].Error = err.Error()
			receipts[i].VerifiedAt = &now
			changed = true
			upgraded++
			continue
		}
		switch res.Status {
		case types.ReceiptConfirmed:
			now := time.Now().UTC()
			receipts[i].Status = types.ReceiptConfirmed
			receipts[i].BlockNumber = res.BlockNumber
			receipts[i].VerifiedAt = &now
			if res.Timestamp != nil {
				receipts[i].VerifiedAt = res.Timestamp
			}
			changed = true
			upgraded++
		case types.ReceiptFailed:
			now := time.Now().UTC()
			receipts[i].Status = types.ReceiptFailed
			receipts[i].Error = res.Error
			receipts[i].VerifiedAt = &now
			changed = true
			upgraded++
		}
	}
	if changed {
		if err := saveSidecar(path, receipts); err != nil {
			return upgraded, err
		}
	}
	return upgraded, nil
}

func (r *Registry) sidecarPath(tag string) string {
	return filepath.Join(r.dir, tag+".json")
}

// Dir returns the sidecar directory, for watchers.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) appendReceipt(tag string, receipt *types.Receipt) error {
	path := r.sidecarPath(tag)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	defer func() { _ = lock.Unlock() }()

	receipts, err := loadSidecar(path)
	if err != nil {
		return err
	}
	receipts = append(receipts, *receipt)
	return saveSidecar(path, receipts)
}

func loadSidecar(path string) ([]types.Receipt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.ErrIo, err)
	}
	var receipts []types.Receipt
	if err := json.Unmarshal(raw, &receipts); err != nil {
		return nil, types.NewError(types.ErrCorrupt, "sidecar %s: %v", path, err)
	}
	return receipts, nil
}

func saveSidecar(path string, receipts []types.Receipt) error {
	raw, err := json.MarshalIndent(receipts, "", "  ")
	if err != nil {
		return types.WrapError(types.ErrIo, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sidecar-*")
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
