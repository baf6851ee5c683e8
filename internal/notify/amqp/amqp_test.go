package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/notify"
)

type fakeChannel struct {
	declared   []string
	declareErr error
	key        string
	msg        amqp.Publishing
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, "")
	if err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != DefaultQueue {
		t.Fatalf("expected default queue declared, got %v", ch.declared)
	}

	event := notify.NewEvent(uuid.New(), 9, entity.ID{}, nil,
		[]entity.ID{entity.NewID(entity.TypeAllocatable, 3)},
		time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC))
	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if ch.key != DefaultQueue || ch.msg.DeliveryMode != amqp.Persistent || ch.msg.MessageId != event.ID.String() {
		t.Fatalf("unexpected publishing to %q: %+v", ch.key, ch.msg)
	}
	got, err := notify.Unmarshal(ch.msg.Body)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !got.User.IsZero() || len(got.Removed) != 1 || got.RepositoryVersion != 9 {
		t.Fatalf("unexpected event %+v", got)
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("Close did not close the channel")
	}
}

func TestNewPublisherReportsDeclareFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("access refused")
	if _, err := newPublisher(&fakeChannel{declareErr: boom}, "events"); !errors.Is(err, boom) {
		t.Fatalf("expected declare error, got %v", err)
	}
}
