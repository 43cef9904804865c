package relay

import "context"

// Publisher sends payloads to the broker.
type Publisher interface {
	// Publish returns an error when the message could not be delivered; the
	// relay logs it and carries on.
	Publish(topic string, payload []byte) error
	Close() error
}

// RecordStore persists batches of records.
type RecordStore interface {
	InsertRecords(ctx context.Context, rows []RecordPayload) error
	Close() error
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Topics and Payloads are parallel slices of published messages.
	Topics   []string
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(topic string, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Topics = append(f.Topics, topic)
	f.Payloads = append(f.Payloads, append([]byte(nil), payload...))
	return nil
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// On returns the payloads published to topic.
func (f *FakePublisher) On(topic string) [][]byte {
	var out [][]byte
	for i, t := range f.Topics {
		if t == topic {
			out = append(out, f.Payloads[i])
		}
	}
	return out
}
