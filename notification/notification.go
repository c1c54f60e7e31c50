// Package notification verifies that S3 bucket notifications reach the SQS
// queue. The first message received is logged as a sample and acknowledged.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
	"github.com/gurre/trailcheck/poll"
)

const (
	opReceive = "sqs:ReceiveMessage"
	opDelete  = "sqs:DeleteMessage"

	maxMessages = 10
	// maxRawSample bounds how much of an undecodable body is logged.
	maxRawSample = 512
)

// Message is a received queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Settings configures a Verifier.
type Settings struct {
	QueueURL string
	LongPoll int // WaitTimeSeconds per receive, 0-20
	Wait     time.Duration
	Interval time.Duration
	Clock    poll.Clock // nil means the wall clock
}

// Result is the outcome of a successful verification.
type Result struct {
	Received int     // messages in the successful receive
	Sample   Message // first message
	Event    *Event  // decoded sample, nil if the body was not an S3 event
	Deleted  bool
	Attempts int
	Elapsed  time.Duration
	Warnings []*failure.Error
}

// Verifier polls the queue until notifications arrive.
type Verifier struct {
	client   aws.SQSClient
	settings Settings
	logger   *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(client aws.SQSClient, s Settings, logger *slog.Logger) (*Verifier, error) {
	if client == nil {
		return nil, errors.New("notification: client must not be nil")
	}
	if s.QueueURL == "" {
		return nil, errors.New("notification: queue URL is required")
	}
	return &Verifier{client: client, settings: s, logger: logging.OrDefault(logger)}, nil
}

// Verify waits for at least one message, logs the first one and deletes it.
// A failed delete is reported as a warning and does not fail verification.
func (v *Verifier) Verify(ctx context.Context) (Result, error) {
	s := v.settings
	v.logger.Info("waiting for S3 notifications to appear in SQS queue", "queue_url", s.QueueURL)

	res, err := poll.Until(ctx, poll.Options{
		Op:       opReceive,
		Deadline: s.Wait,
		Interval: s.Interval,
		Clock:    s.Clock,
		Logger:   v.logger,
	}, v.receive, nil)

	out := Result{Attempts: res.Attempts, Elapsed: res.Elapsed}
	if err != nil {
		if failure.IsKind(err, failure.TimeoutExceeded) {
			v.logger.Error("no S3 notifications found in SQS queue", "queue_url", s.QueueURL, "wait", s.Wait)
		} else {
			v.logger.Error("error checking SQS queue", "queue_url", s.QueueURL, "err", err)
		}
		return out, err
	}

	out.Received = len(res.Items)
	out.Sample = toMessage(res.Items[0])
	v.logger.Info("found messages in the SQS queue", "count", out.Received)

	if ev, err := ParseEvent(out.Sample.Body); err == nil {
		out.Event = &ev
		v.logger.Info("sample message", "message_id", out.Sample.ID, "test_event", ev.IsTestEvent(), "objects", ev.Keys(),
			"body", truncate(out.Sample.Body, maxRawSample))
	} else {
		v.logger.Warn("sample message is not an S3 event", "message_id", out.Sample.ID, "err", err, "body", truncate(out.Sample.Body, maxRawSample))
	}

	// The sample is acknowledged even when its body could not be decoded.
	if err := v.delete(ctx, out.Sample.ReceiptHandle); err != nil {
		w := failure.Warning(opDelete, err)
		out.Warnings = append(out.Warnings, w)
		v.logger.Warn("error deleting SQS message", "message_id", out.Sample.ID, "err", err)
	} else {
		out.Deleted = true
	}
	return out, nil
}

func (v *Verifier) receive(ctx context.Context) ([]types.Message, error) {
	s := v.settings
	out, err := v.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &s.QueueURL,
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(s.LongPoll),
	})
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (v *Verifier) delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return errors.New("message has no receipt handle")
	}
	_, err := v.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &v.settings.QueueURL,
		ReceiptHandle: &receiptHandle,
	})
	return err
}

func toMessage(m types.Message) Message {
	var msg Message
	if m.MessageId != nil {
		msg.ID = *m.MessageId
	}
	if m.ReceiptHandle != nil {
		msg.ReceiptHandle = *m.ReceiptHandle
	}
	if m.Body != nil {
		msg.Body = *m.Body
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
