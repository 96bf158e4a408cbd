package shared

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
)

// OperatorConfig carries the credentials that sign vault transfers and the
// token the vault pays out.
type OperatorConfig struct {
	AccountID      string
	PrivateKey     string
	Network        string
	TokenID        string
	VaultAccountID string
}

var dotenvLoadOnce sync.Once

// OperatorConfigFromEnv resolves operator credentials from the environment.
func OperatorConfigFromEnv() (OperatorConfig, error) {
	loadDotEnvIfPresent()

	network := firstNonEmptyEnv("VESTING_NETWORK", "HEDERA_NETWORK", "NETWORK")
	normalized, err := NormalizeNetwork(network)
	if err != nil {
		return OperatorConfig{}, err
	}

	accountID := firstNonEmptyEnv("VESTING_OPERATOR_ID", "HEDERA_ACCOUNT_ID", "HEDERA_OPERATOR_ID", "OPERATOR_ID")
	privateKey := firstNonEmptyEnv("VESTING_OPERATOR_KEY", "HEDERA_PRIVATE_KEY", "HEDERA_OPERATOR_KEY", "OPERATOR_KEY")

	scope := strings.ToUpper(normalized)
	if scopedAccount := firstNonEmptyEnv(
		scope+"_VESTING_OPERATOR_ID",
		scope+"_HEDERA_ACCOUNT_ID",
		scope+"_HEDERA_OPERATOR_ID",
	); scopedAccount != "" {
		accountID = scopedAccount
	}
	if scopedKey := firstNonEmptyEnv(
		scope+"_VESTING_OPERATOR_KEY",
		scope+"_HEDERA_PRIVATE_KEY",
		scope+"_HEDERA_OPERATOR_KEY",
	); scopedKey != "" {
		privateKey = scopedKey
	}

	if accountID == "" {
		return OperatorConfig{}, fmt.Errorf("VESTING_OPERATOR_ID or HEDERA_ACCOUNT_ID is required")
	}
	if privateKey == "" {
		return OperatorConfig{}, fmt.Errorf("VESTING_OPERATOR_KEY or HEDERA_PRIVATE_KEY is required")
	}

	vaultAccountID := firstNonEmptyEnv(scope+"_VESTING_VAULT_ACCOUNT_ID", "VESTING_VAULT_ACCOUNT_ID")
	if vaultAccountID == "" {
		vaultAccountID = accountID
	}

	return OperatorConfig{
		AccountID:      accountID,
		PrivateKey:     privateKey,
		Network:        normalized,
		TokenID:        firstNonEmptyEnv(scope+"_VESTING_TOKEN_ID", "VESTING_TOKEN_ID"),
		VaultAccountID: vaultAccountID,
	}, nil
}

// LoadDotEnv loads the nearest .env file once per process. Variables that
// are already set are never overwritten.
func LoadDotEnv() {
	loadDotEnvIfPresent()
}

func loadDotEnvIfPresent() {
	dotenvLoadOnce.Do(func() {
		cwd, err := os.Getwd()
		if err != nil {
			return
		}

		current := cwd
		for {
			candidate := filepath.Join(current, ".env")
			if _, statErr := os.Stat(candidate); statErr == nil {
				loadDotEnvFile(candidate)
				return
			}

			parent := filepath.Dir(current)
			if parent == current {
				return
			}
			current = parent
		}
	})
}

func loadDotEnvFile(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	loaded := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, alreadySet := os.LookupEnv(key); alreadySet {
			continue
		}
		if setErr := os.Setenv(key, value); setErr == nil {
			loaded++
		}
	}

	return loaded
}

func parseDotEnvLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if !isValidEnvKey(key) {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first := value[0]
		last := value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}

func isValidEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for index, character := range key {
		if (character >= 'A' && character <= 'Z') ||
			(character >= 'a' && character <= 'z') ||
			(index > 0 && character >= '0' && character <= '9') ||
			character == '_' {
			continue
		}
		return false
	}
	return true
}

func firstNonEmptyEnv(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

// ParsePrivateKey accepts DER or raw hex keys in ED25519 or ECDSA form.
func ParsePrivateKey(raw string) (hedera.PrivateKey, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return hedera.PrivateKey{}, fmt.Errorf("private key cannot be empty")
	}

	ed25519Key, edErr := hedera.PrivateKeyFromStringEd25519(candidate)
	if edErr == nil {
		return ed25519Key, nil
	}

	ecdsaKey, ecdsaErr := hedera.PrivateKeyFromStringECDSA(candidate)
	if ecdsaErr == nil {
		return ecdsaKey, nil
	}

	genericKey, genericErr := hedera.PrivateKeyFromString(candidate)
	if genericErr == nil {
		return genericKey, nil
	}

	return hedera.PrivateKey{}, fmt.Errorf(
		"failed to parse private key as ED25519 (%v), ECDSA (%v), or generic (%v)",
		edErr,
		ecdsaErr,
		genericErr,
	)
}
