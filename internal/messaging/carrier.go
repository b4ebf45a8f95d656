package messaging

import "github.com/segmentio/kafka-go"

const (
	TopicOrderCreated = "order.created"
	TopicCartState    = "register.cart-state"

	// EventTypeHeader names the payload schema so consumers sharing a topic
	// can skip what they do not understand.
	EventTypeHeader = "event-type"

	EventOrderCreated = "order.created.v1"
	EventCartState    = "cart.state.v1"
)

// MessageCarrier adapts Kafka headers to the OTel TextMapCarrier interface so
// trace context survives the hop through the broker.
type MessageCarrier struct {
	msg *kafka.Message
}

func NewMessageCarrier(msg *kafka.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

func (c *MessageCarrier) Get(key string) string {
	return header(c.msg, key)
}

// Set replaces an existing header rather than appending a duplicate.
func (c *MessageCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func header(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
