package kafka

type MessageWriter = messageWriter

func NewPublisherWithWriter(w MessageWriter, topic string, c Config) *Publisher {
	return newPublisher(w, topic, c)
}
