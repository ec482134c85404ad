package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	logx "inquisitor/pkg/logx"
)

// SQSAPI is the subset of *sqs.Client used by the driver.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const (
	sqsMaxBatch       = 10
	sqsMaxWait        = 20 * time.Second
	sqsRetryAttribute = "RetryCount"
)

// sqsChannel maps the channel onto a FIFO queue: PartitionKey is the message group and
// DedupKey the deduplication id. SQS fixes the dedup window at five minutes.
type sqsChannel struct {
	client   SQSAPI
	queueURL string
	vis      time.Duration
	wait     time.Duration
	log      logx.Logger
}

var _ Channel = (*sqsChannel)(nil)

func openSQS(cfg Config, name string, log logx.Logger) (Channel, error) {
	sc := cfg.SQS
	url := strings.TrimSpace(sc.QueueURL)
	if url == "" {
		return nil, fmt.Errorf("queue: sqs queue_url is required for channel %q", name)
	}
	if !strings.HasSuffix(url, ".fifo") {
		log.Warn("sqs queue is not FIFO; partition ordering and dedup are not guaranteed", logx.String("queue_url", url))
	}
	client := sc.Client
	if client == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue/sqs: load aws config: %w", err)
		}
		client = sqs.NewFromConfig(awsCfg)
	}
	return newSQS(client, url, cfg, log), nil
}

func newSQS(client SQSAPI, url string, cfg Config, log logx.Logger) *sqsChannel {
	cfg = cfg.withDefaults()
	wait := cfg.SQS.WaitTime
	if wait < 0 {
		wait = 0
	}
	if wait > sqsMaxWait {
		wait = sqsMaxWait
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqsChannel{client: client, queueURL: url, vis: cfg.Visibility, wait: wait, log: log}
}

func (c *sqsChannel) Enqueue(ctx context.Context, m Message) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(m.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			sqsRetryAttribute: {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(m.Attempt)),
			},
		},
	}
	if m.PartitionKey != "" {
		in.MessageGroupId = aws.String(m.PartitionKey)
	}
	if m.DedupKey != "" {
		in.MessageDeduplicationId = aws.String(m.DedupKey)
	}
	if _, err := c.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("queue/sqs: send: %w", err)
	}
	return nil
}

func (c *sqsChannel) Receive(ctx context.Context, max int) ([]Envelope, error) {
	if max <= 0 {
		max = 1
	}
	if max > sqsMaxBatch {
		max = sqsMaxBatch
	}
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       int32(c.wait / time.Second),
		VisibilityTimeout:     int32((c.vis + time.Second - 1) / time.Second),
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("queue/sqs: receive: %w", err)
	}
	now := time.Now()
	envs := make([]Envelope, 0, len(out.Messages))
	for _, msg := range out.Messages {
		env := Envelope{
			Message: Message{
				PartitionKey: msg.Attributes["MessageGroupId"],
				DedupKey:     msg.Attributes["MessageDeduplicationId"],
				Body:         []byte(aws.ToString(msg.Body)),
			},
			Receipt:    aws.ToString(msg.ReceiptHandle),
			ReceivedAt: now,
		}
		if a, ok := msg.MessageAttributes[sqsRetryAttribute]; ok {
			if n, err := strconv.Atoi(aws.ToString(a.StringValue)); err == nil {
				env.Attempt = n
			}
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (c *sqsChannel) Ack(ctx context.Context, env Envelope) error {
	if env.Receipt == "" {
		return ErrUnknownReceipt
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(env.Receipt),
	})
	if err != nil {
		var invalid *types.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return ErrUnknownReceipt
		}
		return fmt.Errorf("queue/sqs: delete: %w", err)
	}
	return nil
}

func (c *sqsChannel) Close() error { return nil }
