package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// MockTransport simulates a messaging provider, failing a configurable
// fraction of sends. Useful until a real provider binding is configured, and
// for exercising the retry and failure paths in development.
type MockTransport struct {
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockTransport(failureRate float64) *MockTransport {
	return &MockTransport{
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

func (m *MockTransport) Send(ctx context.Context, phone, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	r := m.rng.Float64()
	m.mu.Unlock()
	if r < m.FailureRate {
		return "", fmt.Errorf("mock provider rejected message to %s", phone)
	}
	return uuid.NewString(), nil
}
