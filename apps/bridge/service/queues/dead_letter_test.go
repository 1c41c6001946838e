package queues_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/frame/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/service-wabridge/apps/bridge/service/business"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/queues"
	"github.com/antinvestor/service-wabridge/internal"
)

type mockPublisher struct {
	published    []mockPublished
	publishError error
}

type mockPublished struct {
	payload any
	headers map[string]string
}

func (m *mockPublisher) Initiated() bool              { return true }
func (m *mockPublisher) Ref() string                  { return "mock" }
func (m *mockPublisher) Init(_ context.Context) error { return nil }
func (m *mockPublisher) Stop(_ context.Context) error { return nil }
func (m *mockPublisher) As(_ any) bool                { return false }
func (m *mockPublisher) Publish(_ context.Context, payload any, headers ...map[string]string) error {
	if m.publishError != nil {
		return m.publishError
	}
	var h map[string]string
	if len(headers) > 0 {
		h = headers[0]
	}
	m.published = append(m.published, mockPublished{payload: payload, headers: h})
	return nil
}

type mockQueueManager struct {
	publishers      map[string]*mockPublisher
	getPublisherErr error
}

func newMockQueueManager() *mockQueueManager {
	return &mockQueueManager{
		publishers: make(map[string]*mockPublisher),
	}
}

func (m *mockQueueManager) AddPublisher(_ context.Context, _ string, _ string) error { return nil }
func (m *mockQueueManager) DiscardPublisher(_ context.Context, _ string) error       { return nil }
func (m *mockQueueManager) AddSubscriber(_ context.Context, _ string, _ string, _ ...queue.SubscribeWorker) error {
	return nil
}
func (m *mockQueueManager) DiscardSubscriber(_ context.Context, _ string) error { return nil }
func (m *mockQueueManager) GetSubscriber(_ string) (queue.Subscriber, error)    { return nil, nil }
func (m *mockQueueManager) Publish(_ context.Context, _ string, _ any, _ ...map[string]string) error {
	return nil
}
func (m *mockQueueManager) Init(_ context.Context) error { return nil }
func (m *mockQueueManager) GetPublisher(name string) (queue.Publisher, error) {
	if m.getPublisherErr != nil {
		return nil, m.getPublisherErr
	}
	pub, ok := m.publishers[name]
	if !ok {
		pub = &mockPublisher{}
		m.publishers[name] = pub
	}
	return pub, nil
}

func TestShouldDeadLetter(t *testing.T) {
	cfg := testConfig()
	cfg.QueueDeadLetterName = "bridge.dead.letter"
	dlp := queues.NewDeadLetterPublisher(cfg, newMockQueueManager())

	// MaxDeliveryRetries=5: counts 0-4 retry, 5+ dead-letter.
	assert.False(t, dlp.ShouldDeadLetter(0))
	assert.False(t, dlp.ShouldDeadLetter(4))
	assert.True(t, dlp.ShouldDeadLetter(5))
	assert.True(t, dlp.ShouldDeadLetter(100))
}

func TestShouldDeadLetterIndependentOfPairingRetries(t *testing.T) {
	cfg := testConfig()
	cfg.QueueDeadLetterName = "bridge.dead.letter"
	cfg.PairingMaxRetries = 1
	dlp := queues.NewDeadLetterPublisher(cfg, newMockQueueManager())

	// Delivery retries follow their own cap, not the pairing one.
	assert.False(t, dlp.ShouldDeadLetter(1))
	assert.False(t, dlp.ShouldDeadLetter(4))
	assert.True(t, dlp.ShouldDeadLetter(5))
}

func TestDeadLetterPublish(t *testing.T) {
	qm := newMockQueueManager()
	cfg := testConfig()
	cfg.QueueDeadLetterName = "bridge.dead.letter"
	dlp := queues.NewDeadLetterPublisher(cfg, qm)

	msg := &business.LifecycleNotification{AccountID: "254700000001", Status: "given_up"}
	headers := map[string]string{internal.HeaderRetryCount: "3"}

	err := dlp.Publish(context.Background(), msg, "bridge.lifecycle", "send failed", headers)
	require.NoError(t, err)

	pub := qm.publishers["bridge.dead.letter"]
	require.NotNil(t, pub)
	require.Len(t, pub.published, 1)

	got := pub.published[0]
	assert.Equal(t, msg, got.payload)
	assert.Equal(t, "bridge.lifecycle", got.headers[internal.HeaderDLQOriginalQueue])
	assert.Equal(t, "send failed", got.headers[internal.HeaderDLQErrorMessage])
	assert.Equal(t, "3", got.headers[internal.HeaderRetryCount])
}

func TestDeadLetterPublishKeepsCallerHeadersIntact(t *testing.T) {
	qm := newMockQueueManager()
	cfg := testConfig()
	cfg.QueueDeadLetterName = "bridge.dead.letter"
	dlp := queues.NewDeadLetterPublisher(cfg, qm)

	headers := map[string]string{internal.HeaderRetryCount: "3"}
	err := dlp.Publish(context.Background(), "payload", "bridge.lifecycle", "boom", headers)
	require.NoError(t, err)

	// The DLQ annotations must not leak back into the caller's map.
	assert.Len(t, headers, 1)
}

func TestDeadLetterPublishErrors(t *testing.T) {
	t.Run("publisher resolution fails", func(t *testing.T) {
		qm := newMockQueueManager()
		qm.getPublisherErr = errors.New("unknown queue")
		dlp := queues.NewDeadLetterPublisher(testConfig(), qm)

		err := dlp.Publish(context.Background(), "payload", "bridge.lifecycle", "boom", nil)
		require.Error(t, err)
	})

	t.Run("publish fails", func(t *testing.T) {
		qm := newMockQueueManager()
		cfg := testConfig()
		cfg.QueueDeadLetterName = "bridge.dead.letter"
		qm.publishers["bridge.dead.letter"] = &mockPublisher{publishError: errors.New("broker down")}
		dlp := queues.NewDeadLetterPublisher(cfg, qm)

		err := dlp.Publish(context.Background(), "payload", "bridge.lifecycle", "boom", nil)
		require.Error(t, err)
	})
}
