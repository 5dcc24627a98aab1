package observability

import "context"

// Publisher is the broker side of PublishEvent; rabbitmq.Publisher satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
