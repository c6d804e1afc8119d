// Package kafka resolves broker settings for the document event relay.
package kafka

import (
	"os"
	"strings"

	"github.com/parishworks/registratura/internal/config"
)

const (
	EnvBrokers = "REGISTRATURA_KAFKA_BROKERS"
	EnvTopic   = "REGISTRATURA_EVENTS_TOPIC"

	DefaultBroker = "localhost:19092"
	DefaultTopic  = "registratura.document-events"
)

// GetBrokers returns the Kafka/Redpanda broker addresses.
// The environment wins over the config file, which wins over the default.
func GetBrokers(cfg *config.Config) []string {
	if env := os.Getenv(EnvBrokers); env != "" {
		var brokers []string
		for _, b := range strings.Split(env, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if len(brokers) > 0 {
			return brokers
		}
	}

	if cfg != nil && cfg.Events != nil && len(cfg.Events.Brokers) > 0 {
		return cfg.Events.Brokers
	}

	return []string{DefaultBroker}
}

// GetEventsTopic returns the topic document events are published to.
func GetEventsTopic(cfg *config.Config) string {
	if topic := os.Getenv(EnvTopic); topic != "" {
		return topic
	}

	if cfg != nil && cfg.Events != nil && cfg.Events.Topic != "" {
		return cfg.Events.Topic
	}

	return DefaultTopic
}
