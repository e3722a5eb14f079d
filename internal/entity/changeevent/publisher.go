package changeevent

import (
	"context"
	"maps"
	"sync"
)

// Publisher sends one payload to the bus. Implementations must deliver
// payloads sharing a partition key in call order.
type Publisher interface {
	Publish(ctx context.Context, partitionKey string, payload []byte, headers map[string]string) error
}

// Message is a payload captured by MemoryPublisher.
type Message struct {
	PartitionKey string
	Payload      []byte
	Headers      map[string]string
}

// MemoryPublisher records published messages in process memory.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, partitionKey string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{
		PartitionKey: partitionKey,
		Payload:      append([]byte(nil), payload...),
		Headers:      maps.Clone(headers),
	})
	return nil
}

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// ByKey groups published messages by partition key, preserving order.
func (p *MemoryPublisher) ByKey() map[string][]Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]Message)
	for _, m := range p.messages {
		out[m.PartitionKey] = append(out[m.PartitionKey], m)
	}
	return out
}
