package anchor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

const testHash = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestRegistrationIsIdempotent(t *testing.T) {
	r := setupRegistry(t)
	r.Register(NewMock())
	r.Register(NewMock())
	if tags := r.Tags(); len(tags) != 1 || tags[0] != "mock" {
		t.Errorf("tags: %v", tags)
	}
}

func TestSubmitPersistsPendingReceipt(t *testing.T) {
	r := setupRegistry(t)
	r.Register(NewMock())

	receipt, err := r.Submit(context.Background(), "mock", 4, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptPending {
		t.Errorf("status %s", receipt.Status)
	}
	if receipt.ID == "" || receipt.ProofRef == "" {
		t.Errorf("receipt incomplete: %+v", receipt)
	}

	// the receipt is durable before Submit returned
	persisted, err := r.Status(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].ID != receipt.ID {
		t.Errorf("persisted: %+v", persisted)
	}
}

func TestSubmitFailureYieldsFailedReceipt(t *testing.T) {
	r := setupRegistry(t)
	r.Register(&MockProvider{ProviderTag: "mock", FailSubmit: true})

	receipt, err := r.Submit(context.Background(), "mock", 1, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptFailed || receipt.Error == "" {
		t.Errorf("receipt: %+v", receipt)
	}

	persisted, err := r.Status(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].Status != types.ReceiptFailed {
		t.Errorf("persisted: %+v", persisted)
	}
}

func TestSubmitUnknownProvider(t *testing.T) {
	r := setupRegistry(t)
	if _, err := r.Submit(context.Background(), "nope", 0, testHash); types.KindOf(err) != types.ErrBackendUnavailable {
		t.Errorf("got %v", err)
	}
}

func TestUpgradeConfirmsAfterSecondPass(t *testing.T) {
	r := setupRegistry(t)
	r.Register(NewMock())
	ctx := context.Background()

	if _, err := r.Submit(ctx, "mock", 0, testHash); err != nil {
		t.Fatal(err)
	}

	n, err := r.Upgrade(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("first pass upgraded %d", n)
	}

	n, err = r.Upgrade(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("second pass upgraded %d", n)
	}

	receipts, _ := r.Status(0)
	if receipts[0].Status != types.ReceiptConfirmed || receipts[0].VerifiedAt == nil {
		t.Errorf("receipt: %+v", receipts[0])
	}

	// idempotent thereafter
	n, err = r.Upgrade(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("third pass upgraded %d", n)
	}
}

type brokenProvider struct{}

func (brokenProvider) Tag() string { return "broken" }
func (brokenProvider) Submit(context.Context, int64, string) (*SubmitResult, error) {
	return nil, errors.New("backend down")
}
func (brokenProvider) Verify(context.Context, *types.Receipt) (*VerifyResult, error) {
	return nil, errors.New("backend down")
}
func (brokenProvider) Available(context.Context) bool { return false }
func (brokenProvider) EstimateCost(context.Context, int) (Cost, error) {
	return Cost{Available: false}, nil
}

func TestOneBackendFailureDoesNotBlockOthers(t *testing.T) {
	r := setupRegistry(t)
	r.Register(NewMock())
	r.Register(brokenProvider{})
	ctx := context.Background()

	if _, err := r.Submit(ctx, "mock", 0, testHash); err != nil {
		t.Fatal(err)
	}
	broken, err := r.Submit(ctx, "broken", 0, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if broken.Status != types.ReceiptFailed || !strings.Contains(broken.Error, "backend down") {
		t.Errorf("broken receipt: %+v", broken)
	}

	// mock still upgrades to confirmed across two passes
	r.Upgrade(ctx)
	r.Upgrade(ctx)
	receipts, _ := r.Status(0)
	confirmed := 0
	for _, rec := range receipts {
		if rec.Provider == "mock" && rec.Status == types.ReceiptConfirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Errorf("mock receipt not confirmed: %+v", receipts)
	}
}

func TestLocalProviderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r.Register(NewLocal(r.Dir()))
	ctx := context.Background()

	receipt, err := r.Submit(ctx, "local", 3, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Status != types.ReceiptPending {
		t.Errorf("receipt: %+v", receipt)
	}

	n, err := r.Upgrade(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("upgraded %d", n)
	}
	receipts, _ := r.Status(3)
	if receipts[0].Status != types.ReceiptConfirmed {
		t.Errorf("local receipt: %+v", receipts[0])
	}
}

func TestEstimateCost(t *testing.T) {
	m := NewMock()
	cost, err := m.EstimateCost(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if !cost.Available || cost.Fee <= 0 {
		t.Errorf("cost: %+v", cost)
	}

	l := NewLocal(t.TempDir())
	cost, err = l.EstimateCost(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if cost.Fee != 0 {
		t.Errorf("local notary should be free: %+v", cost)
	}
}
