package anchor

import (
	"context"
	"sync"
	"time"

	"github.com/SeMmyT/openclaw-memory-chain/internal/types"
)

// MockProvider simulates an asynchronous anchoring backend: submissions
// succeed immediately, and a receipt confirms after ConfirmAfter verify
// calls, mimicking a backend whose confirmation lags submission.
type MockProvider struct {
	ProviderTag  string
	ConfirmAfter int   // verify calls before a receipt confirms
	BlockNumber  int64 // block metadata reported on confirmation
	FailSubmit   bool

	mu     sync.Mutex
	checks map[string]int
}

// NewMock builds the default mock backend registered under "mock".
func NewMock() *MockProvider {
	return &MockProvider{ProviderTag: "mock", ConfirmAfter: 2, BlockNumber: 1042}
}

func (m *MockProvider) Tag() string {
	if m.ProviderTag == "" {
		return "mock"
	}
	return m.ProviderTag
}

func (m *MockProvider) Submit(_ context.Context, _ int64, entryHash string) (*SubmitResult, error) {
	if m.FailSubmit {
		return &SubmitResult{Success: false, Provider: m.Tag(), Error: "mock backend refused submission"}, nil
	}
	return &SubmitResult{Success: true, Provider: m.Tag(), ProofRef: "mock-tx-" + entryHash[:12]}, nil
}

func (m *MockProvider) Verify(_ context.Context, receipt *types.Receipt) (*VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checks == nil {
		m.checks = map[string]int{}
	}
	m.checks[receipt.ID]++
	if m.checks[receipt.ID] < m.ConfirmAfter {
		return &VerifyResult{Valid: false, Status: types.ReceiptPending}, nil
	}
	now := time.Now().UTC()
	return &VerifyResult{
		Valid:       true,
		Status:      types.ReceiptConfirmed,
		BlockNumber: m.BlockNumber,
		Timestamp:   &now,
	}, nil
}

func (m *MockProvider) Available(context.Context) bool { return true }

func (m *MockProvider) EstimateCost(_ context.Context, count int) (Cost, error) {
	return Cost{Fee: 0.001 * float64(count), Available: true}, nil
}
