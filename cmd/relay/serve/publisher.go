package servecmder

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
)

// Publisher types accepted by events.provider.
const (
	publisherNop   = "nop"
	publisherKafka = "kafka"
)

// newPublisher builds the turn telemetry publisher selected by
// events.provider. An empty provider disables publishing.
func newPublisher(v *viper.Viper, logger *zap.Logger) (eventstream.Publisher, error) {
	switch providerType := strings.ToLower(strings.TrimSpace(v.GetString("events.provider"))); providerType {
	case "", publisherNop:
		return nop.NewPublisher(), nil

	case publisherKafka:
		brokers := config.Brokers(v)
		topic := v.GetString("events.topic")

		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: brokers,
			Topic:   topic,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}

		logger.Info("publishing turn events to kafka",
			zap.Strings("brokers", brokers),
			zap.String("topic", topic),
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown events provider: %q (supported: %s, %s)",
			providerType, publisherNop, publisherKafka)
	}
}
