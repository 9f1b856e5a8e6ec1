package awstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSFake is an in-memory queue honouring DelaySeconds. Time is injectable so
// retry-delay tests do not sleep.
type SQSFake struct {
	mu      sync.Mutex
	seq     int
	pending []fakeMessage
	Now     func() time.Time

	SendCalls int
}

type fakeMessage struct {
	id       string
	body     string
	readyAt  time.Time
	inFlight bool
}

func NewSQSFake() *SQSFake {
	return &SQSFake{Now: time.Now}
}

// Len reports the number of undeleted messages, delayed ones included.
func (f *SQSFake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Bodies returns the bodies of all undeleted messages in send order.
func (f *SQSFake) Bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for _, m := range f.pending {
		out = append(out, m.body)
	}
	return out
}

func (f *SQSFake) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendCalls++
	f.seq++

	id := "msg-" + strconv.Itoa(f.seq)
	ready := f.Now()
	if params.DelaySeconds > 0 {
		ready = ready.Add(time.Duration(params.DelaySeconds) * time.Second)
	}
	f.pending = append(f.pending, fakeMessage{id: id, body: *params.MessageBody, readyAt: ready})
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

func (f *SQSFake) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	maxMessages := int(params.MaxNumberOfMessages)
	if maxMessages <= 0 {
		maxMessages = 1
	}
	now := f.Now()
	var out []sqstypes.Message
	for i := range f.pending {
		if len(out) >= maxMessages {
			break
		}
		m := &f.pending[i]
		if m.inFlight || m.readyAt.After(now) {
			continue
		}
		m.inFlight = true
		receipt := fmt.Sprintf("rh-%s", m.id)
		out = append(out, sqstypes.Message{
			MessageId:     &m.id,
			Body:          &m.body,
			ReceiptHandle: &receipt,
		})
	}
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *SQSFake) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	receipt := *params.ReceiptHandle
	for i, m := range f.pending {
		if "rh-"+m.id == receipt {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}
