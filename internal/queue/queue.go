package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Campaign lifecycle event types
const (
	EventCampaignStarted   = "campaign_started"
	EventStepExecuted      = "step_executed"
	EventStepFailed        = "step_failed"
	EventCampaignCompleted = "campaign_completed"
	EventCampaignFailed    = "campaign_failed"
	EventCampaignPaused    = "campaign_paused"
	EventCampaignResumed   = "campaign_resumed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func(Event) error) error
}

// InMemoryQueue fans events out to in-process subscribers. Each handler runs
// in its own goroutine and is retried with linear backoff on error.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(Event) error
	wg         sync.WaitGroup
	log        *zap.Logger
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(Event) error),
		log:        log,
		MaxRetries: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*500) * time.Millisecond
		},
	}
}

// jobPayload wraps an event with retry info
type jobPayload struct {
	topic      string
	event      Event
	retryCount int
	maxRetries int
}

// Publish hands the event to every subscriber of topic. Events on a topic
// nobody listens to are dropped.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, event Event) error {
	q.mu.Lock()
	handlers := append([]func(Event) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	for _, handler := range handlers {
		job := jobPayload{topic: topic, event: event, maxRetries: q.MaxRetries}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(Event) error, job jobPayload) {
	defer q.wg.Done()
	for {
		err := handler(job.event)
		if err == nil {
			return
		}

		job.retryCount++
		if job.retryCount > job.maxRetries {
			q.log.Error("event handler permanently failed",
				zap.String("topic", job.topic),
				zap.String("type", job.event.Type),
				zap.Int("attempts", job.retryCount),
				zap.Error(err))
			return
		}
		q.log.Warn("event handler failed, retrying",
			zap.String("topic", job.topic),
			zap.String("type", job.event.Type),
			zap.Int("attempt", job.retryCount),
			zap.Error(err))
		time.Sleep(q.Backoff(job.retryCount))
	}
}

func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler func(Event) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight handler has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// StartEventLogSubscriber logs every campaign event published on topic.
func StartEventLogSubscriber(ctx context.Context, s Subscriber, topic string, log *zap.Logger) error {
	return s.Subscribe(ctx, topic, func(e Event) error {
		fields := []zap.Field{zap.String("event", e.Type)}
		for k, v := range e.Payload {
			fields = append(fields, zap.Any(k, v))
		}
		log.Info("campaign event", fields...)
		return nil
	})
}

var (
	_ Publisher  = (*InMemoryQueue)(nil)
	_ Subscriber = (*InMemoryQueue)(nil)
)
