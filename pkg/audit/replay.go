package audit

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/mirror"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
)

// MessageSource lists topic messages. *mirror.Client satisfies it.
type MessageSource interface {
	GetTopicMessages(ctx context.Context, topicID string, options mirror.MessageQueryOptions) ([]mirror.TopicMessage, error)
}

type ReplayOptions struct {
	// AfterSequence skips messages up to and including this sequence number.
	AfterSequence int64
	// TrustedSigners are compressed public keys. When non-empty, envelopes
	// that are unsigned or signed by another key are rejected.
	TrustedSigners []string
}

// Record is one decoded topic message.
type Record struct {
	SequenceNumber     int64    `json:"sequenceNumber"`
	ConsensusTimestamp string   `json:"consensusTimestamp"`
	Envelope           Envelope `json:"envelope"`
	Verified           bool     `json:"verified"`
}

// Rejected is a topic message that could not be accepted.
type Rejected struct {
	SequenceNumber int64  `json:"sequenceNumber"`
	Reason         string `json:"reason"`
}

type ReplayResult struct {
	Records  []Record   `json:"records"`
	Rejected []Rejected `json:"rejected"`
}

// Replay reads the audit topic in consensus order.
func Replay(ctx context.Context, source MessageSource, topicID string, options ReplayOptions) (ReplayResult, error) {
	query := mirror.MessageQueryOptions{Order: "asc", Limit: 100}
	if options.AfterSequence > 0 {
		query.SequenceNumber = fmt.Sprintf("gt:%d", options.AfterSequence)
	}

	messages, err := source.GetTopicMessages(ctx, topicID, query)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to fetch audit topic messages: %w", err)
	}

	trusted := mapset.NewThreadUnsafeSet[string]()
	for _, signer := range options.TrustedSigners {
		if trimmed := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signer), "0x")); trimmed != "" {
			trusted.Add(trimmed)
		}
	}

	result := ReplayResult{
		Records:  make([]Record, 0, len(messages)),
		Rejected: []Rejected{},
	}
	for _, message := range messages {
		reject := func(reason string) {
			result.Rejected = append(result.Rejected, Rejected{SequenceNumber: message.SequenceNumber, Reason: reason})
		}

		payload, err := mirror.DecodeMessageData(message)
		if err != nil {
			reject(err.Error())
			continue
		}
		envelope, err := DecodeEnvelope(payload)
		if err != nil {
			reject(err.Error())
			continue
		}

		verified := false
		if envelope.Signature != "" {
			if err := envelope.Verify(); err != nil {
				reject(err.Error())
				continue
			}
			verified = true
		}
		if trusted.Cardinality() > 0 && (!verified || !trusted.Contains(strings.ToLower(envelope.Signer))) {
			reject("envelope is not signed by a trusted signer")
			continue
		}

		result.Records = append(result.Records, Record{
			SequenceNumber:     message.SequenceNumber,
			ConsensusTimestamp: message.ConsensusTimestamp,
			Envelope:           envelope,
			Verified:           verified,
		})
	}

	return result, nil
}

// Trail is the per-schedule history rebuilt from audit records.
type Trail struct {
	ScheduleID  string `json:"scheduleId"`
	Beneficiary string `json:"beneficiary"`
	TotalAmount uint64 `json:"totalAmount"`
	Released    uint64 `json:"released"`
	Claims      int    `json:"claims"`
	Revoked     bool   `json:"revoked"`
	Recovered   uint64 `json:"recovered"`
}

// Summarize folds records into per-schedule trails, ordered by first
// appearance.
func Summarize(records []Record) []Trail {
	index := map[string]int{}
	trails := []Trail{}

	for _, record := range records {
		event := record.Envelope.Event
		if event.ScheduleID == "" {
			continue
		}
		position, exists := index[event.ScheduleID]
		if !exists {
			position = len(trails)
			index[event.ScheduleID] = position
			trails = append(trails, Trail{ScheduleID: event.ScheduleID})
		}
		trail := &trails[position]

		switch event.Type {
		case vesting.EventScheduleCreated:
			trail.Beneficiary = event.Subject
			trail.TotalAmount = event.Amount
		case vesting.EventTokensClaimed:
			trail.Released += event.Amount
			trail.Claims++
		case vesting.EventScheduleRevoked:
			trail.Revoked = true
		case vesting.EventUnvestedRecovered:
			trail.Recovered += event.Amount
		}
	}

	return trails
}
