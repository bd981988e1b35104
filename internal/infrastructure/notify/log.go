package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes messages to the log instead of a broker. It is used
// when RABBIT_URL is unset.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, routingKey string, v any) error {
	p.log.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"message":     v,
	}).Info("notify")
	return nil
}
