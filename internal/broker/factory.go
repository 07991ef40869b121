// Package broker selects a domain.Broker implementation by driver name.
package broker

import (
	"fmt"

	"github.com/fairyhunter13/job-platform/internal/broker/kafka"
	"github.com/fairyhunter13/job-platform/internal/broker/redisstream"
	"github.com/fairyhunter13/job-platform/internal/domain"
)

// New builds the Broker configured by driver ("kafka" or "redis"),
// spec §9's pluggable Broker Adapter.
func New(driver string, kafkaBrokers []string, redisURL string) (domain.Broker, error) {
	switch driver {
	case "kafka", "":
		return kafka.New(kafkaBrokers)
	case "redis":
		return redisstream.New(redisURL)
	default:
		return nil, fmt.Errorf("op=broker.new: unknown driver %q", driver)
	}
}
