package commit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// RetryQueue parks usage deltas whose first application failed. Messages
// that are received but not acknowledged are delivered again.
type RetryQueue interface {
	Enqueue(ctx context.Context, d UsageDelta) error
	Receive(ctx context.Context, max int) ([]RetryMessage, error)
	Ack(ctx context.Context, receipt string) error
}

type RetryMessage struct {
	Delta   UsageDelta
	Receipt string
}

// MemoryRetryQueue is a RetryQueue for single-process deployments. An
// unacknowledged message becomes visible again on the next Receive.
type MemoryRetryQueue struct {
	mu       sync.Mutex
	pending  []RetryMessage
	inflight map[string]RetryMessage
}

func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{inflight: make(map[string]RetryMessage)}
}

func (q *MemoryRetryQueue) Enqueue(ctx context.Context, d UsageDelta) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, RetryMessage{Delta: d, Receipt: uuid.NewString()})
	return nil
}

func (q *MemoryRetryQueue) Receive(ctx context.Context, max int) ([]RetryMessage, error) {
	if max <= 0 {
		max = 10
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, msg := range q.inflight {
		q.pending = append(q.pending, msg)
		delete(q.inflight, receipt)
	}
	n := min(max, len(q.pending))
	out := make([]RetryMessage, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	for _, msg := range out {
		q.inflight[msg.Receipt] = msg
	}
	return out, nil
}

func (q *MemoryRetryQueue) Ack(ctx context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receipt)
	return nil
}

// Len reports queued plus in-flight messages.
func (q *MemoryRetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSRetryQueue stores usage deltas on an SQS queue; SQS redelivers
// messages that are not deleted before their visibility timeout.
type SQSRetryQueue struct {
	client      sqsAPI
	queueURL    string
	waitSeconds int32
}

func NewSQSRetryQueue(client sqsAPI, queueURL string) *SQSRetryQueue {
	if client == nil {
		panic("commit: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("commit: SQS queueURL cannot be empty")
	}
	return &SQSRetryQueue{client: client, queueURL: queueURL, waitSeconds: 5}
}

func (q *SQSRetryQueue) Enqueue(ctx context.Context, d UsageDelta) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("commit: encode usage delta: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("commit: failed to send SQS message: %w", err)
	}
	return nil
}

func (q *SQSRetryQueue) Receive(ctx context.Context, max int) ([]RetryMessage, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     q.waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("commit: failed to receive SQS messages: %w", err)
	}
	messages := make([]RetryMessage, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var d UsageDelta
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &d); err != nil {
			// Poison message: drop it so it does not block the queue.
			_ = q.Ack(ctx, aws.ToString(msg.ReceiptHandle))
			continue
		}
		messages = append(messages, RetryMessage{Delta: d, Receipt: aws.ToString(msg.ReceiptHandle)})
	}
	return messages, nil
}

func (q *SQSRetryQueue) Ack(ctx context.Context, receipt string) error {
	if receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("commit: failed to delete SQS message: %w", err)
	}
	return nil
}

// UsageRetrier re-applies parked usage deltas. The repository's per-call
// guard makes redelivered deltas harmless.
type UsageRetrier struct {
	queue    RetryQueue
	usage    UsageRepository
	logger   *logging.Logger
	interval time.Duration
	batch    int
}

func NewUsageRetrier(queue RetryQueue, usage UsageRepository, interval time.Duration, logger *logging.Logger) *UsageRetrier {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &UsageRetrier{queue: queue, usage: usage, logger: logger, interval: interval, batch: 10}
}

// Run drains the queue every interval until ctx is cancelled.
func (r *UsageRetrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("usage retry pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Drain makes one pass over the queue and returns how many deltas were
// settled.
func (r *UsageRetrier) Drain(ctx context.Context) (int, error) {
	messages, err := r.queue.Receive(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, msg := range messages {
		applied, err := r.usage.Apply(ctx, msg.Delta)
		if err != nil {
			r.logger.Warn("usage retry failed", "tenant_id", msg.Delta.TenantID, "call_id", msg.Delta.CallID, "error", err)
			continue
		}
		if err := r.queue.Ack(ctx, msg.Receipt); err != nil {
			r.logger.Warn("usage retry ack failed", "call_id", msg.Delta.CallID, "error", err)
			continue
		}
		r.logger.Info("usage delta settled", "tenant_id", msg.Delta.TenantID, "call_id", msg.Delta.CallID, "applied", applied)
		settled++
	}
	return settled, nil
}
