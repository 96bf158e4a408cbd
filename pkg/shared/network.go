package shared

import (
	"fmt"
	"strings"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
)

const (
	NetworkMainnet    = "mainnet"
	NetworkTestnet    = "testnet"
	NetworkPreviewnet = "previewnet"
)

// NormalizeNetwork lowercases the network name. Empty means testnet.
func NormalizeNetwork(network string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(network))
	if normalized == "" {
		return NetworkTestnet, nil
	}

	switch normalized {
	case NetworkMainnet, NetworkTestnet, NetworkPreviewnet:
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported network %q", network)
	}
}

// NewHederaClient creates an unauthenticated client for the network.
func NewHederaClient(network string) (*hedera.Client, error) {
	normalized, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}

	switch normalized {
	case NetworkMainnet:
		return hedera.ClientForMainnet(), nil
	case NetworkPreviewnet:
		return hedera.ClientForPreviewnet(), nil
	default:
		return hedera.ClientForTestnet(), nil
	}
}

// NewOperatorClient creates a client that signs and pays as the operator.
func NewOperatorClient(config OperatorConfig) (*hedera.Client, error) {
	client, err := NewHederaClient(config.Network)
	if err != nil {
		return nil, err
	}

	operatorID, err := hedera.AccountIDFromString(config.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator account ID: %w", err)
	}
	operatorKey, err := ParsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, err
	}

	client.SetOperator(operatorID, operatorKey)
	return client, nil
}
