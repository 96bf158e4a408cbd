package audit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
)

const (
	EnvelopeVersion = 1

	compressedPrefix = "data:application/json;base64,"
)

// Envelope is the topic message body for one vesting event.
type Envelope struct {
	Version   int           `json:"v"`
	Event     vesting.Event `json:"event"`
	Signer    string        `json:"signer,omitempty"`
	Signature string        `json:"sig,omitempty"`
}

type compressedEnvelope struct {
	Content string `json:"c"`
}

// EncodeOptions controls how an envelope is serialised.
type EncodeOptions struct {
	Signer *Signer
	// Compress wraps the envelope in a brotli data URL.
	Compress bool
}

// EncodeEvent serialises event into a topic message payload.
func EncodeEvent(event vesting.Event, options EncodeOptions) ([]byte, error) {
	envelope := Envelope{Version: EnvelopeVersion, Event: event}
	if options.Signer != nil {
		signingPayload, err := canonicalEvent(event)
		if err != nil {
			return nil, err
		}
		envelope.Signer = options.Signer.PublicKeyHex()
		envelope.Signature = options.Signer.Sign(signingPayload)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit envelope: %w", err)
	}
	if !options.Compress {
		return payload, nil
	}

	var compressed bytes.Buffer
	writer := brotli.NewWriterLevel(&compressed, brotli.BestCompression)
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress audit envelope: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress audit envelope: %w", err)
	}

	wrapped, err := json.Marshal(compressedEnvelope{
		Content: compressedPrefix + base64.StdEncoding.EncodeToString(compressed.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compressed envelope: %w", err)
	}
	return wrapped, nil
}

// DecodeEnvelope parses a payload produced by EncodeEvent, compressed or not.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	body, err := unwrapCompressed(payload)
	if err != nil {
		return Envelope{}, err
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode audit envelope: %w", err)
	}
	if envelope.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("unsupported audit envelope version %d", envelope.Version)
	}
	if strings.TrimSpace(envelope.Event.Type) == "" {
		return Envelope{}, fmt.Errorf("audit envelope has no event type")
	}
	return envelope, nil
}

// Verify checks the envelope signature. Unsigned envelopes fail.
func (envelope Envelope) Verify() error {
	if envelope.Signer == "" || envelope.Signature == "" {
		return fmt.Errorf("audit envelope is not signed")
	}
	signingPayload, err := canonicalEvent(envelope.Event)
	if err != nil {
		return err
	}
	return VerifySignature(envelope.Signer, signingPayload, envelope.Signature)
}

func canonicalEvent(event vesting.Event) ([]byte, error) {
	event.OccurredAt = event.OccurredAt.UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event for signing: %w", err)
	}
	return payload, nil
}

func unwrapCompressed(payload []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("audit payload is empty")
	}
	if !bytes.Contains(trimmed, []byte(`"c"`)) {
		return trimmed, nil
	}

	var wrapped compressedEnvelope
	if err := json.Unmarshal(trimmed, &wrapped); err != nil || wrapped.Content == "" {
		return trimmed, nil
	}
	if !strings.HasPrefix(wrapped.Content, compressedPrefix) {
		return nil, fmt.Errorf("unsupported compressed audit payload")
	}

	compressed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(wrapped.Content, compressedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode compressed audit payload: %w", err)
	}
	decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress audit payload: %w", err)
	}
	return decompressed, nil
}
