package hts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/mirror"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/shared"
	"github.com/hashgraph-online/vesting-sdk-go/pkg/vesting"
	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"go.uber.org/zap"
)

type ClientConfig struct {
	OperatorAccountID  string
	OperatorPrivateKey string
	Network            string
	TokenID            string
	// VaultAccountID defaults to the operator account. A different vault must
	// have granted the operator an allowance or share its key.
	VaultAccountID string
	MirrorBaseURL  string
	MirrorAPIKey   string
	// ConfirmAttempts and ConfirmInterval bound the mirror node lookups made
	// when a receipt cannot be fetched after submission.
	ConfirmAttempts int
	ConfirmInterval time.Duration
	Logger          *zap.Logger
}

const (
	defaultConfirmAttempts = 5
	defaultConfirmInterval = 2 * time.Second
)

type Client struct {
	hederaClient *hedera.Client
	mirrorClient *mirror.Client
	operatorID   hedera.AccountID
	tokenID      hedera.TokenID
	vaultID      hedera.AccountID
	logger       *zap.Logger

	confirmAttempts int
	confirmInterval time.Duration
}

// NewClient creates an HTS transfer backend.
func NewClient(config ClientConfig) (*Client, error) {
	network, err := shared.NormalizeNetwork(config.Network)
	if err != nil {
		return nil, err
	}

	trimmedOperatorID := strings.TrimSpace(config.OperatorAccountID)
	if trimmedOperatorID == "" {
		return nil, fmt.Errorf("operator account ID is required")
	}
	trimmedOperatorKey := strings.TrimSpace(config.OperatorPrivateKey)
	if trimmedOperatorKey == "" {
		return nil, fmt.Errorf("operator private key is required")
	}

	tokenID, err := hedera.TokenIDFromString(strings.TrimSpace(config.TokenID))
	if err != nil {
		return nil, fmt.Errorf("invalid token ID: %w", err)
	}

	hederaClient, err := shared.NewOperatorClient(shared.OperatorConfig{
		AccountID:  trimmedOperatorID,
		PrivateKey: trimmedOperatorKey,
		Network:    network,
	})
	if err != nil {
		return nil, err
	}
	operatorID := hederaClient.GetOperatorAccountID()

	vaultID := operatorID
	if trimmedVault := strings.TrimSpace(config.VaultAccountID); trimmedVault != "" {
		vaultID, err = hedera.AccountIDFromString(trimmedVault)
		if err != nil {
			_ = hederaClient.Close()
			return nil, fmt.Errorf("invalid vault account ID: %w", err)
		}
	}

	mirrorClient, err := mirror.NewClient(mirror.Config{
		Network: network,
		BaseURL: config.MirrorBaseURL,
		APIKey:  config.MirrorAPIKey,
	})
	if err != nil {
		_ = hederaClient.Close()
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	confirmAttempts := config.ConfirmAttempts
	if confirmAttempts <= 0 {
		confirmAttempts = defaultConfirmAttempts
	}
	confirmInterval := config.ConfirmInterval
	if confirmInterval <= 0 {
		confirmInterval = defaultConfirmInterval
	}

	return &Client{
		hederaClient:    hederaClient,
		mirrorClient:    mirrorClient,
		operatorID:      operatorID,
		tokenID:         tokenID,
		vaultID:         vaultID,
		logger:          logger,
		confirmAttempts: confirmAttempts,
		confirmInterval: confirmInterval,
	}, nil
}

// HederaClient exposes the underlying signed client.
func (client *Client) HederaClient() *hedera.Client {
	return client.hederaClient
}

// MirrorClient returns the configured mirror client.
func (client *Client) MirrorClient() *mirror.Client {
	return client.mirrorClient
}

func (client *Client) TokenID() string {
	return client.tokenID.String()
}

func (client *Client) VaultAccountID() string {
	return client.vaultID.String()
}

// Close releases the network client.
func (client *Client) Close() error {
	return client.hederaClient.Close()
}

// Transfer submits one token transfer and waits for its receipt. A receipt
// with any status other than SUCCESS is an error, so the ledger is never
// advanced for a transfer that did not settle. When the receipt cannot be
// fetched the mirror node is asked instead, and a transfer it cannot place
// either way is reported as *vesting.OutcomeUnknownError.
func (client *Client) Transfer(ctx context.Context, request vesting.TransferRequest) (vesting.TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return vesting.TransferReceipt{}, err
	}

	from := strings.TrimSpace(request.From)
	if from == "" {
		from = client.vaultID.String()
	}
	if from != client.vaultID.String() {
		return vesting.TransferReceipt{}, fmt.Errorf("transfer source %s is not the vault %s", from, client.vaultID)
	}

	transaction, err := BuildTokenTransferTx(TokenTransferTxParams{
		TokenID: client.tokenID.String(),
		From:    from,
		To:      request.To,
		Amount:  request.Amount,
		Memo:    request.Memo,
	})
	if err != nil {
		return vesting.TransferReceipt{}, err
	}

	response, err := transaction.Execute(client.hederaClient)
	if err != nil {
		return vesting.TransferReceipt{}, fmt.Errorf("failed to execute token transfer: %w", err)
	}

	receipt, err := response.GetReceipt(client.hederaClient)
	if err != nil {
		return client.settleUnconfirmed(ctx, vesting.PendingTransfer{
			TransactionID: response.TransactionID.String(),
			To:            request.To,
			Amount:        request.Amount,
		}, fmt.Errorf("failed to get token transfer receipt: %w", err))
	}
	if receipt.Status != hedera.StatusSuccess {
		return vesting.TransferReceipt{}, fmt.Errorf("token transfer failed with status %s", receipt.Status.String())
	}

	result := vesting.TransferReceipt{
		TransactionID: response.TransactionID.String(),
	}
	if record, recordErr := response.GetRecord(client.hederaClient); recordErr == nil {
		result.ConsensusAt = record.ConsensusTimestamp.UTC()
	}
	if result.ConsensusAt.IsZero() {
		result.ConsensusAt = time.Now().UTC()
	}

	client.logger.Info("token transfer settled",
		zap.String("schedule_id", request.ScheduleID),
		zap.String("token_id", client.tokenID.String()),
		zap.String("to", request.To),
		zap.Uint64("amount", request.Amount),
		zap.String("transaction_id", result.TransactionID),
	)

	return result, nil
}

// VaultBalance reads the vault's token balance from the mirror node.
func (client *Client) VaultBalance(ctx context.Context) (uint64, error) {
	balance, err := client.mirrorClient.GetTokenBalance(ctx, client.vaultID.String(), client.tokenID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to fetch vault balance: %w", err)
	}
	return balance, nil
}

// ConfirmTransfer checks the mirror node for a settled transfer and returns
// the amount credited to account. Zero with a nil error means the mirror node
// has not indexed the transaction yet.
func (client *Client) ConfirmTransfer(ctx context.Context, transactionID string, account string) (int64, error) {
	transaction, err := client.mirrorClient.GetTransaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	if transaction == nil {
		return 0, nil
	}
	if transaction.Result != "SUCCESS" {
		return 0, fmt.Errorf("transaction %s finished with %s", transactionID, transaction.Result)
	}
	return mirror.TokenTransferTo(*transaction, client.tokenID.String(), strings.TrimSpace(account)), nil
}

// ResolveTransfer looks a submitted transfer up on the mirror node.
func (client *Client) ResolveTransfer(ctx context.Context, pending vesting.PendingTransfer) (vesting.TransferOutcome, error) {
	transaction, err := client.mirrorClient.GetTransaction(ctx, pending.TransactionID)
	if err != nil {
		return vesting.TransferOutcomeUnknown, err
	}
	if transaction == nil {
		return vesting.TransferOutcomeUnknown, nil
	}
	if transaction.Result != "SUCCESS" {
		return vesting.TransferOutcomeFailed, nil
	}
	credited := mirror.TokenTransferTo(*transaction, client.tokenID.String(), strings.TrimSpace(pending.To))
	if credited < 0 || uint64(credited) != pending.Amount {
		return vesting.TransferOutcomeUnknown, fmt.Errorf("transaction %s credited %d to %s, expected %d",
			pending.TransactionID, credited, pending.To, pending.Amount)
	}
	return vesting.TransferOutcomeSettled, nil
}

// settleUnconfirmed polls the mirror node for a transfer whose receipt could
// not be read.
func (client *Client) settleUnconfirmed(ctx context.Context, pending vesting.PendingTransfer, cause error) (vesting.TransferReceipt, error) {
	client.logger.Warn("token transfer receipt unavailable, checking mirror node",
		zap.String("transaction_id", pending.TransactionID),
		zap.String("to", pending.To),
		zap.Uint64("amount", pending.Amount),
		zap.Error(cause),
	)

	for attempt := 1; attempt <= client.confirmAttempts; attempt++ {
		outcome, err := client.ResolveTransfer(ctx, pending)
		switch {
		case err != nil:
			client.logger.Debug("mirror lookup failed", zap.String("transaction_id", pending.TransactionID), zap.Error(err))
		case outcome == vesting.TransferOutcomeSettled:
			return vesting.TransferReceipt{
				TransactionID: pending.TransactionID,
				ConsensusAt:   time.Now().UTC(),
			}, nil
		case outcome == vesting.TransferOutcomeFailed:
			return vesting.TransferReceipt{}, fmt.Errorf("token transfer %s did not succeed: %w", pending.TransactionID, cause)
		}

		if attempt == client.confirmAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return vesting.TransferReceipt{}, &vesting.OutcomeUnknownError{TransactionID: pending.TransactionID, Err: ctx.Err()}
		case <-time.After(client.confirmInterval):
		}
	}

	return vesting.TransferReceipt{}, &vesting.OutcomeUnknownError{TransactionID: pending.TransactionID, Err: cause}
}

var _ vesting.TransferResolver = (*Client)(nil)
