package queues_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/service-wabridge/apps/bridge/config"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/business"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/queues"
	"github.com/antinvestor/service-wabridge/internal"
)

func testConfig(adminIDs ...string) *config.BridgeConfig {
	return &config.BridgeConfig{
		AdminAccountIDs:    adminIDs,
		QueueLifecycleName: "bridge.lifecycle",
		PairingMaxRetries:  3,
		MaxDeliveryRetries: 5,
	}
}

func TestLifecycleHandler_RejectsMalformedPayload(t *testing.T) {
	handler := queues.NewLifecycleNotificationHandler(
		testConfig("254700000009"), nil, business.NewRegistry(), nil,
	)

	err := handler.Handle(context.Background(), nil, []byte("not json"))
	require.Error(t, err)
}

func TestLifecycleHandler_NoAdminsIsNoOp(t *testing.T) {
	handler := queues.NewLifecycleNotificationHandler(
		testConfig(), nil, business.NewRegistry(), nil,
	)

	payload := []byte(`{"account_id":"254700000001","status":"connected"}`)
	require.NoError(t, handler.Handle(context.Background(), nil, payload))
}

func TestLifecycleHandler_NoActiveSessionIsNoOp(t *testing.T) {
	handler := queues.NewLifecycleNotificationHandler(
		testConfig("254700000009"), nil, business.NewRegistry(), nil,
	)

	payload := []byte(`{"account_id":"254700000001","status":"given_up"}`)
	require.NoError(t, handler.Handle(context.Background(), nil, payload))
}

func TestRetryCountFromHeaders(t *testing.T) {
	assert.Equal(t, 0, queues.RetryCountFromHeaders(nil))
	assert.Equal(t, 0, queues.RetryCountFromHeaders(map[string]string{
		internal.HeaderRetryCount: "junk",
	}))
	assert.Equal(t, 4, queues.RetryCountFromHeaders(map[string]string{
		internal.HeaderRetryCount: "4",
	}))
}
