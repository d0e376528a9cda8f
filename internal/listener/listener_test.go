package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/catalog"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}

	f.messages = append(f.messages, msgs...)

	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true

	return nil
}

func sampleTransition() catalog.RunTransition {
	previous := catalog.RunStateNew

	return catalog.RunTransition{
		RunID:          uuid.MustParse("0d4f2c1e-4b7a-4c5e-9f3a-2b1c0d9e8f7a"),
		JobVersion:     catalog.JobVersionRef{Namespace: "ns1", Name: "etl_job", Version: uuid.New()},
		Previous:       &previous,
		New:            catalog.RunStateRunning,
		TransitionedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "log only", cfg: Config{Kinds: []string{"log"}}},
		{name: "none", cfg: Config{}},
		{name: "kafka without brokers", cfg: Config{Kinds: []string{"kafka"}}, wantErr: ErrKafkaBrokersEmpty},
		{name: "redis without url", cfg: Config{Kinds: []string{"log", "redis"}}, wantErr: ErrRedisURLEmpty},
		{name: "unknown kind", cfg: Config{Kinds: []string{"webhook"}}, wantErr: ErrUnknownListener},
		{
			name: "fully configured",
			cfg: Config{
				Kinds:        []string{"LOG", "kafka", "redis"},
				KafkaBrokers: []string{"localhost:9092"},
				RedisURL:     "redis://localhost:6379",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("CATALOG_LISTENERS", "log, kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CATALOG_KAFKA_NOTIFY_TOPIC", "lineage.events")

	cfg := LoadConfig()

	assert.Equal(t, []string{"log", "kafka"}, cfg.Kinds)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "lineage.events", cfg.KafkaTopic)
	assert.Equal(t, defaultRedisChannel, cfg.RedisChannel)
}

func TestBuild(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	set, err := Build(&Config{
		Kinds:        []string{"log", "kafka", "log"},
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "topic",
	}, logger)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, l := range set.Listeners() {
		names = append(names, l.Name())
	}

	assert.Equal(t, []string{"log", "kafka"}, names)
	require.NoError(t, set.Close())

	_, err = Build(&Config{Kinds: []string{"carrier-pigeon"}}, logger)
	require.ErrorIs(t, err, ErrUnknownListener)
}

func TestKafkaListenerPublishes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	writer := &fakeWriter{}
	listener := &KafkaListener{writer: writer, topic: "notifications"}
	transition := sampleTransition()

	require.NoError(t, listener.OnTransition(context.Background(), transition))
	require.NoError(t, listener.OnOutputUpdate(context.Background(), catalog.OutputUpdate{
		RunID:      transition.RunID,
		JobVersion: transition.JobVersion,
		Outputs:    []catalog.DatasetVersionRef{{Namespace: "ns1", Name: "users", Version: uuid.New()}},
	}))

	require.Len(t, writer.messages, 2)
	assert.Equal(t, []byte(transition.RunID.String()), writer.messages[0].Key)
	assert.Equal(t, writer.messages[0].Key, writer.messages[1].Key, "one run maps to one partition key")

	var notification Notification
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &notification))
	assert.Equal(t, TypeTransition, notification.Type)
	assert.Equal(t, "NEW", notification.PreviousState)
	assert.Equal(t, "RUNNING", notification.NewState)
	assert.Equal(t, "etl_job", notification.JobVersion.Name)

	require.NoError(t, json.Unmarshal(writer.messages[1].Value, &notification))
	assert.Equal(t, TypeOutputUpdate, notification.Type)
	require.Len(t, notification.Datasets, 1)
	assert.Equal(t, "users", notification.Datasets[0].Name)

	require.NoError(t, listener.Close())
	assert.True(t, writer.closed)
}

func TestKafkaListenerSurfacesWriteErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	listener := &KafkaListener{writer: &fakeWriter{err: errors.New("broker unavailable")}, topic: "notifications"}

	err := listener.OnInputUpdate(context.Background(), catalog.InputUpdate{RunID: uuid.New()})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications")
}

func TestLogListener(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var buf bytes.Buffer

	listener := NewLogListener(slog.New(slog.NewJSONHandler(&buf, nil)))
	transition := sampleTransition()

	require.NoError(t, listener.OnTransition(context.Background(), transition))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run transitioned", entry["msg"])
	assert.Equal(t, transition.RunID.String(), entry["run_id"])
	assert.Equal(t, "NEW", entry["from"])
	assert.Equal(t, "RUNNING", entry["to"])
}
