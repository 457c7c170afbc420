package wbmqtt

import (
	"sort"
	"strings"
	"sync"

	"github.com/SmithLEDs/wb-buttonLight/internal/mqtt"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeSub struct {
	filter  string
	handler mqtt.MessageHandler
}

// fakeBroker is a synchronous in-memory broker with retained messages.
type fakeBroker struct {
	mu        sync.Mutex
	retained  map[string]string
	subs      []fakeSub
	published []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: make(map[string]string)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	b.published = append(b.published, published{topic: topic, payload: string(payload), retained: retained})
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = string(payload)
		}
	}
	var handlers []mqtt.MessageHandler
	for _, s := range b.subs {
		if match(s.filter, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload)
	}
	return nil
}

func (b *fakeBroker) Subscribe(filter string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.subs = append(b.subs, fakeSub{filter: filter, handler: handler})
	var topics []string
	for topic := range b.retained {
		if match(filter, topic) {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	replay := make([]string, len(topics))
	for i, topic := range topics {
		replay[i] = b.retained[topic]
	}
	b.mu.Unlock()

	for i, topic := range topics {
		_ = handler(topic, []byte(replay[i]))
	}
	return nil
}

// device publishes a retained message as an external driver would.
func (b *fakeBroker) device(topic, payload string) {
	_ = b.Publish(topic, []byte(payload), true)
}

func (b *fakeBroker) lastPublished(topic string) (published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i], true
		}
	}
	return published{}, false
}

func (b *fakeBroker) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.published {
		if p.topic == topic {
			n++
		}
	}
	return n
}

// simulateRelay makes a physical switch follow its /on commands.
func (b *fakeBroker) simulateRelay(state string) {
	_ = b.Subscribe(state+"/on", func(_ string, payload []byte) error {
		b.device(state, string(payload))
		return nil
	})
}

// match implements MQTT topic filter matching.
func match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
