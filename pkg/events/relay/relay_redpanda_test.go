//go:build integration

package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/parishworks/registratura/pkg/models"
)

// startRedpanda runs a single-node broker with topic created and returns its
// seed address.
func startRedpanda(t *testing.T, topic string) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	seed, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	admin, err := kgo.NewClient(kgo.SeedBrokers(seed))
	require.NoError(t, err)
	defer admin.Close()

	create := kmsg.NewCreateTopicsRequest()
	rt := kmsg.NewCreateTopicsRequestTopic()
	rt.Topic = topic
	rt.NumPartitions = 3
	rt.ReplicationFactor = 1
	create.Topics = append(create.Topics, rt)

	resp, err := create.RequestWith(ctx, admin)
	require.NoError(t, err)
	for _, tr := range resp.Topics {
		require.Zero(t, tr.ErrorCode, "create topic %s", tr.Topic)
	}
	return seed
}

// consumeN reads n records from topic, failing the test on timeout.
func consumeN(t *testing.T, seed, topic string, n int) []*kgo.Record {
	t.Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(seed),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < n {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			t.Fatalf("received %d of %d records before timeout", len(records), n)
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			t.Fatalf("fetch %s/%d: %v", topic, partition, err)
		})
		records = append(records, fetches.Records()...)
	}
	return records
}

func headerValue(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestRelay_Redpanda(t *testing.T) {
	const topic = "registratura.document-events.test"
	seed := startRedpanda(t, topic)

	db := setupTestDB(t)
	first := createTestEvent(t, db)
	second := createTestEvent(t, db)

	r, err := New(Config{
		DB:      db,
		Brokers: []string{seed},
		Topic:   topic,
		Logger:  hclog.New(&hclog.LoggerOptions{Name: "relay-test", Level: hclog.Debug}),
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)

	published, err := r.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, published)

	byEventID := map[string]*kgo.Record{}
	for _, rec := range consumeN(t, seed, topic, 2) {
		byEventID[headerValue(rec, "event_id")] = rec
	}

	for _, ev := range []*models.DocumentEvent{first, second} {
		rec, ok := byEventID[ev.EventID.String()]
		require.True(t, ok, "event %s not consumed", ev.EventID)

		assert.Equal(t, ev.DocumentUUID.String(), string(rec.Key))
		assert.Equal(t, models.DocumentEventRegistered, headerValue(rec, "event_type"))

		var msg Message
		require.NoError(t, json.Unmarshal(rec.Value, &msg))
		assert.Equal(t, ev.DocumentID, msg.DocumentID)
		assert.Equal(t, "data", msg.Payload["test"])
	}

	stats, err := r.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Published: 2}, stats)
}
