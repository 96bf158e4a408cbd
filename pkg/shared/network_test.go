package shared

import (
	"testing"
)

func TestNormalizeNetwork(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"", NetworkTestnet},
		{"   ", NetworkTestnet},
		{"MAINNET", NetworkMainnet},
		{"  testnet  ", NetworkTestnet},
		{"Previewnet", NetworkPreviewnet},
	}

	for _, tc := range cases {
		result, err := NormalizeNetwork(tc.input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.input, err)
		}
		if result != tc.expected {
			t.Fatalf("expected %q for input %q, got %q", tc.expected, tc.input, result)
		}
	}
}

func TestNormalizeNetworkUnsupported(t *testing.T) {
	if _, err := NormalizeNetwork("devnet"); err == nil {
		t.Fatal("expected error for unsupported network")
	}
}

func TestNewHederaClient(t *testing.T) {
	for _, network := range []string{NetworkMainnet, NetworkTestnet, NetworkPreviewnet} {
		client, err := NewHederaClient(network)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", network, err)
		}
		if client == nil {
			t.Fatalf("expected non-nil client for %s", network)
		}
		_ = client.Close()
	}

	if _, err := NewHederaClient("badnet"); err == nil {
		t.Fatal("expected error for unsupported network")
	}
}

func TestNewOperatorClient(t *testing.T) {
	client, err := NewOperatorClient(OperatorConfig{
		AccountID:  "0.0.12345",
		PrivateKey: testPrivateKey,
		Network:    NetworkTestnet,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	if client.GetOperatorAccountID().String() != "0.0.12345" {
		t.Fatalf("unexpected operator account: %s", client.GetOperatorAccountID())
	}

	if _, err := NewOperatorClient(OperatorConfig{AccountID: "not-an-id", PrivateKey: testPrivateKey}); err == nil {
		t.Fatal("expected error for invalid operator account")
	}
	if _, err := NewOperatorClient(OperatorConfig{AccountID: "0.0.12345", PrivateKey: "bogus"}); err == nil {
		t.Fatal("expected error for invalid operator key")
	}
}
