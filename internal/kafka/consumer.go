package kafka

import (
	"context"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       Reader
	workers int
	service string
}

func NewConsumer(brokers []string, group, topic string, workers int, service string) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, workers, service)
}

func NewConsumerWithReader(r Reader, workers int, service string) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, service: service}
}

// Start fetches until ctx ends or the reader fails, fanning messages out to
// the worker pool. Offsets are committed only after the handler succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				err := h(ctx, m)
				if err == nil {
					err = c.r.CommitMessages(ctx, m)
				}
				if err == nil {
					continue
				}
				select {
				case errs <- err:
				default:
					logging.Err(logging.Fields{Service: c.service, Message: "consumer worker"}, err)
				}
			}
		}()
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}

		// non-blocking drain error agar tidak deadlock
		select {
		case e := <-errs:
			logging.Err(logging.Fields{Service: c.service, Message: "consumer worker"}, e)
			time.Sleep(200 * time.Millisecond) // backoff ringan
		default:
		}
	}
}
