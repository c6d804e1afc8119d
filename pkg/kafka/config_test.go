package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parishworks/registratura/internal/config"
)

func TestGetBrokers(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		assert.Equal(t, []string{DefaultBroker}, GetBrokers(nil))
		assert.Equal(t, []string{DefaultBroker}, GetBrokers(&config.Config{}))
	})

	t.Run("config", func(t *testing.T) {
		cfg := &config.Config{Events: &config.Events{Brokers: []string{"a:9092", "b:9092"}}}
		assert.Equal(t, []string{"a:9092", "b:9092"}, GetBrokers(cfg))
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv(EnvBrokers, "x:9092, y:9092,")
		cfg := &config.Config{Events: &config.Events{Brokers: []string{"a:9092"}}}
		assert.Equal(t, []string{"x:9092", "y:9092"}, GetBrokers(cfg))
	})
}

func TestGetEventsTopic(t *testing.T) {
	assert.Equal(t, DefaultTopic, GetEventsTopic(nil))

	cfg := &config.Config{Events: &config.Events{Topic: "parish.documents"}}
	assert.Equal(t, "parish.documents", GetEventsTopic(cfg))

	t.Setenv(EnvTopic, "override")
	assert.Equal(t, "override", GetEventsTopic(cfg))
}
