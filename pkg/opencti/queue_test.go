// pkg/opencti/queue_test.go

package opencti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnrichmentMessageDecoding(t *testing.T) {
	raw := `{
		"internal": {"work_id": "work--1", "applicant_id": "user--1"},
		"event": {"entity_id": "file--abc", "entity_type": "StixFile"}
	}`
	var msg EnrichmentMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "work--1", msg.Internal.WorkID)
	assert.Equal(t, "user--1", msg.Internal.ApplicantID)
	assert.Equal(t, "file--abc", msg.Event.EntityID)
}

func TestBundleMessageEnvelope(t *testing.T) {
	payload, err := json.Marshal(bundleMessage{
		Type:        "bundle",
		ApplicantID: "user--1",
		WorkID:      "work--1",
		Update:      true,
		Content:     base64.StdEncoding.EncodeToString([]byte(`{"type":"bundle"}`)),
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "bundle", decoded["type"])
	assert.Equal(t, true, decoded["update"])

	content, err := base64.StdEncoding.DecodeString(decoded["content"].(string))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"bundle"}`, string(content))
}

// Worker goroutines push bundles while the listener holds its own
// connection; every call must dial independently so one worker's teardown
// cannot close another's in-flight channel.
func TestPushBundlesConcurrentCallsIndependent(t *testing.T) {
	q := NewQueue(QueueConfig{
		Host: "127.0.0.1",
		Port: 1,
		User: "u",
		Pass: "p",
	}, "connector-1", zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent, err := q.PushBundles(context.Background(), "work--1", "user--1",
				[][]byte{[]byte(`{"type":"bundle"}`)})
			assert.Zero(t, sent)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connecting to broker")
	}
}

func TestAMQPURLWithSSL(t *testing.T) {
	q := QueueConfig{Host: "broker", Port: 5671, UseSSL: true, User: "u", Pass: "p"}
	assert.Equal(t, "amqps://u:p@broker:5671", q.AMQPURL())
}
