package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient is an in-memory queue. Messages are invisible until
// DeliverAfter receives have been served.
type SQSClient struct {
	mu sync.Mutex

	Messages     []types.Message
	DeliverAfter int
	Errors       map[string]error

	Calls    map[string]int
	Deleted  []string // receipt handles
	LastWait int32    // WaitTimeSeconds of the last receive
}

// NewSQSClient creates an empty queue.
func NewSQSClient() *SQSClient {
	return &SQSClient{Errors: make(map[string]error), Calls: make(map[string]int)}
}

// Send enqueues body.
func (m *SQSClient) Send(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Messages) + 1
	m.Messages = append(m.Messages, types.Message{
		MessageId:     aws.String(fmt.Sprintf("msg-%d", n)),
		ReceiptHandle: aws.String(fmt.Sprintf("rh-%d", n)),
		Body:          aws.String(body),
	})
}

// ReceiveMessage implements aws.SQSClient.
func (m *SQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ReceiveMessage"]++
	m.LastWait = params.WaitTimeSeconds
	if err := m.Errors["ReceiveMessage"]; err != nil {
		return nil, err
	}
	if m.Calls["ReceiveMessage"] <= m.DeliverAfter {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	n := min(len(m.Messages), int(params.MaxNumberOfMessages))
	out := make([]types.Message, n)
	copy(out, m.Messages[:n])
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

// DeleteMessage implements aws.SQSClient.
func (m *SQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["DeleteMessage"]++
	if err := m.Errors["DeleteMessage"]; err != nil {
		return nil, err
	}
	rh := aws.ToString(params.ReceiptHandle)
	for i, msg := range m.Messages {
		if aws.ToString(msg.ReceiptHandle) == rh {
			m.Messages = append(m.Messages[:i], m.Messages[i+1:]...)
			m.Deleted = append(m.Deleted, rh)
			return &sqs.DeleteMessageOutput{}, nil
		}
	}
	return nil, &types.ReceiptHandleIsInvalid{Message: aws.String(rh)}
}
