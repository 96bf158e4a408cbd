package hts

import (
	"fmt"
	"math"
	"strings"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"
)

// MaxMemoBytes is the Hedera transaction memo limit.
const MaxMemoBytes = 100

type TokenTransferTxParams struct {
	TokenID string
	From    string
	To      string
	Amount  uint64
	Memo    string
}

// BuildTokenTransferTx builds an unsigned vault-to-recipient token transfer.
func BuildTokenTransferTx(params TokenTransferTxParams) (*hedera.TransferTransaction, error) {
	tokenID, err := hedera.TokenIDFromString(strings.TrimSpace(params.TokenID))
	if err != nil {
		return nil, fmt.Errorf("invalid token ID: %w", err)
	}
	fromID, err := hedera.AccountIDFromString(strings.TrimSpace(params.From))
	if err != nil {
		return nil, fmt.Errorf("invalid source account ID: %w", err)
	}
	toID, err := hedera.AccountIDFromString(strings.TrimSpace(params.To))
	if err != nil {
		return nil, fmt.Errorf("invalid recipient account ID: %w", err)
	}
	if fromID.String() == toID.String() {
		return nil, fmt.Errorf("source and recipient must differ")
	}
	if params.Amount == 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	if params.Amount > math.MaxInt64 {
		return nil, fmt.Errorf("transfer amount %d exceeds the HTS limit", params.Amount)
	}

	amount := int64(params.Amount)
	transaction := hedera.NewTransferTransaction().
		AddTokenTransfer(tokenID, fromID, -amount).
		AddTokenTransfer(tokenID, toID, amount)

	if memo := TruncateMemo(params.Memo); memo != "" {
		transaction.SetTransactionMemo(memo)
	}

	return transaction, nil
}

// TruncateMemo trims memo to MaxMemoBytes without splitting a UTF-8 rune.
func TruncateMemo(memo string) string {
	trimmed := strings.TrimSpace(memo)
	if len(trimmed) <= MaxMemoBytes {
		return trimmed
	}
	cut := MaxMemoBytes
	for cut > 0 && !isRuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut]
}

func isRuneStart(value byte) bool {
	return value&0xC0 != 0x80
}
