package kafka

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// ErrProducerClosed is returned by Publish once Close has been called.
var ErrProducerClosed = errors.New("kafka producer closed")

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer pushes messages through a buffered inbox to one writer. The topic
// is set per message, so one producer serves every checkout topic.
type Producer struct {
	w       Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	service string

	// mu guards inbox against close while a Publish is sending.
	mu       sync.RWMutex
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once
}

func NewProducer(brokers []string, buf int, service string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, buf, service)
}

func NewProducerWithWriter(w Writer, buf int, service string) *Producer {
	return &Producer{
		w:        w,
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
		service:  service,
		stopping: make(chan struct{}),
	}
}

// Start runs the write loop until Close; remaining messages are flushed first.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(m)
		}
		if err := p.w.Close(); err != nil {
			logging.Err(logging.Fields{Service: p.service, Message: "kafka writer close"}, err)
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		logging.Err(logging.Fields{Service: p.service, Message: "kafka write " + m.Topic}, err)
	}
}

// Publish enqueues a message, waiting for inbox space until ctx ends or the
// producer is closed.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.stopping:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tutup inbox supaya goroutine nge-flush sisa pesan lalu exit rapi.
// Publish yang masih nunggu dilepas dulu; aman dipanggil berkali-kali.
func (p *Producer) Close() {
	p.stopOnce.Do(func() { close(p.stopping) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
