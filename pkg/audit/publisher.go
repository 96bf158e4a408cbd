package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"go.uber.org/zap"
)

type SubmitResult struct {
	TopicID        string
	TransactionID  string
	SequenceNumber int64
	ConsensusAt    time.Time
}

// Submitter writes a raw message to a consensus topic.
type Submitter interface {
	Submit(ctx context.Context, topicID string, payload []byte) (SubmitResult, error)
}

// HederaSubmitter submits topic messages with a signed Hedera client.
type HederaSubmitter struct {
	hederaClient *hedera.Client
}

func NewHederaSubmitter(hederaClient *hedera.Client) *HederaSubmitter {
	return &HederaSubmitter{hederaClient: hederaClient}
}

// BuildSubmitMessageTx builds an unsigned topic message submission.
func BuildSubmitMessageTx(topicID string, payload []byte) (*hedera.TopicMessageSubmitTransaction, error) {
	trimmedTopicID := strings.TrimSpace(topicID)
	if trimmedTopicID == "" {
		return nil, fmt.Errorf("topic ID is required")
	}
	parsedTopicID, err := hedera.TopicIDFromString(trimmedTopicID)
	if err != nil {
		return nil, fmt.Errorf("invalid topic ID: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("message payload is empty")
	}

	return hedera.NewTopicMessageSubmitTransaction().
		SetTopicID(parsedTopicID).
		SetMessage(payload), nil
}

func (submitter *HederaSubmitter) Submit(ctx context.Context, topicID string, payload []byte) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	transaction, err := BuildSubmitMessageTx(topicID, payload)
	if err != nil {
		return SubmitResult{}, err
	}

	response, err := transaction.Execute(submitter.hederaClient)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to execute topic message transaction: %w", err)
	}
	receipt, err := response.GetReceipt(submitter.hederaClient)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to get topic message receipt: %w", err)
	}

	result := SubmitResult{
		TopicID:        strings.TrimSpace(topicID),
		TransactionID:  response.TransactionID.String(),
		SequenceNumber: int64(receipt.TopicSequenceNumber),
	}
	if record, recordErr := response.GetRecord(submitter.hederaClient); recordErr == nil {
		result.ConsensusAt = record.ConsensusTimestamp
	}
	if result.ConsensusAt.IsZero() {
		result.ConsensusAt = time.Now().UTC()
	}
	return result, nil
}

type PublisherConfig struct {
	Submitter Submitter
	TopicID   string
	Signer    *Signer
	Compress  bool
	Logger    *zap.Logger
}

// Publisher is a vesting.EventSink backed by a consensus topic.
type Publisher struct {
	submitter Submitter
	topicID   string
	options   EncodeOptions
	logger    *zap.Logger
}

func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	topicID := strings.TrimSpace(config.TopicID)
	if _, err := hedera.TopicIDFromString(topicID); err != nil {
		return nil, fmt.Errorf("invalid audit topic ID: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		submitter: config.Submitter,
		topicID:   topicID,
		options:   EncodeOptions{Signer: config.Signer, Compress: config.Compress},
		logger:    logger,
	}, nil
}

func (publisher *Publisher) TopicID() string {
	return publisher.topicID
}

// Publish encodes and submits one event.
func (publisher *Publisher) Publish(ctx context.Context, event vesting.Event) error {
	payload, err := EncodeEvent(event, publisher.options)
	if err != nil {
		return err
	}

	result, err := publisher.submitter.Submit(ctx, publisher.topicID, payload)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	publisher.logger.Debug("audit event published",
		zap.String("event_type", event.Type),
		zap.String("schedule_id", event.ScheduleID),
		zap.String("topic_id", publisher.topicID),
		zap.Int64("sequence_number", result.SequenceNumber),
	)
	return nil
}

// LogSink writes every event to a zap logger.
func LogSink(logger *zap.Logger) vesting.EventSink {
	return vesting.EventSinkFunc(func(ctx context.Context, event vesting.Event) error {
		logger.Info("vesting event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("schedule_id", event.ScheduleID),
			zap.String("actor", event.Actor),
			zap.String("subject", event.Subject),
			zap.Uint64("amount", event.Amount),
			zap.String("transaction_id", event.TransactionID),
			zap.Time("occurred_at", event.OccurredAt),
		)
		return nil
	})
}
