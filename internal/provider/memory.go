package provider

import (
	"context"
	"fmt"
	"sync"
)

// Message is one delivery captured by MemoryDeliverer.
type Message struct {
	Content    string
	Recipients []string
}

// MemoryDeliverer records deliveries instead of sending them.
// Used for local runs without channel credentials and throughout the tests.
type MemoryDeliverer struct {
	mu       sync.Mutex
	messages []Message
	calls    int

	// Fail, when set, is consulted before each delivery with the 1-based call
	// number; a non-nil return fails that call.
	Fail func(call int) error
}

func NewMemoryDeliverer() *MemoryDeliverer {
	return &MemoryDeliverer{}
}

func (m *MemoryDeliverer) Deliver(ctx context.Context, content string, recipients []string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Fail != nil {
		if err := m.Fail(m.calls); err != nil {
			return Response{}, err
		}
	}
	m.messages = append(m.messages, Message{
		Content:    content,
		Recipients: append([]string(nil), recipients...),
	})
	return Response{Summary: fmt.Sprintf("memory #%d", len(m.messages))}, nil
}

// Messages returns a copy of everything delivered so far.
func (m *MemoryDeliverer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Calls returns how many times Deliver was invoked, including failures.
func (m *MemoryDeliverer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Deliverer = (*MemoryDeliverer)(nil)
