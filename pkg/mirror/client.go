package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashgraph-online/vesting-sdk-go/pkg/shared"
)

type Config struct {
	Network    string
	BaseURL    string
	HTTPClient *http.Client
	APIKey     string
	Headers    map[string]string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	headers    map[string]string
}

type MessageQueryOptions struct {
	SequenceNumber string
	Timestamp      string
	Limit          int
	Order          string
}

// StatusError is returned for non-2xx mirror node responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf("mirror node request failed with status %d: %s", statusError.StatusCode, statusError.Body)
}

// IsNotFound reports whether err is a mirror node 404.
func IsNotFound(err error) bool {
	var statusError *StatusError
	return errors.As(err, &statusError) && statusError.StatusCode == http.StatusNotFound
}

// NewClient creates a mirror node client for the configured network.
func NewClient(config Config) (*Client, error) {
	network, err := shared.NormalizeNetwork(config.Network)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL(network)
	}
	parsedBaseURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mirror base URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid mirror base URL: scheme must be http or https")
	}
	if strings.TrimSpace(parsedBaseURL.Host) == "" {
		return nil, fmt.Errorf("invalid mirror base URL: host is required")
	}
	baseURL = strings.TrimRight(parsedBaseURL.String(), "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	headers := map[string]string{}
	for key, value := range config.Headers {
		headers[key] = value
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		apiKey:     strings.TrimSpace(config.APIKey),
		headers:    headers,
	}, nil
}

// DefaultBaseURL returns the public mirror node for a normalised network.
func DefaultBaseURL(network string) string {
	switch network {
	case shared.NetworkMainnet:
		return "https://mainnet-public.mirrornode.hedera.com"
	case shared.NetworkPreviewnet:
		return "https://previewnet.mirrornode.hedera.com"
	default:
		return "https://testnet.mirrornode.hedera.com"
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetTokenInfo returns token metadata, including decimals.
func (c *Client) GetTokenInfo(ctx context.Context, tokenID string) (TokenInfo, error) {
	var tokenInfo TokenInfo
	normalized := strings.TrimSpace(tokenID)
	if normalized == "" {
		return tokenInfo, fmt.Errorf("token ID is required")
	}

	if err := c.getJSON(ctx, "/api/v1/tokens/"+url.PathEscape(normalized), &tokenInfo); err != nil {
		return tokenInfo, err
	}
	return tokenInfo, nil
}

// GetTokenBalance returns the account's balance of tokenID in base units.
// An account that is not associated with the token reports zero.
func (c *Client) GetTokenBalance(ctx context.Context, accountID string, tokenID string) (uint64, error) {
	normalizedAccountID := strings.TrimSpace(accountID)
	normalizedTokenID := strings.TrimSpace(tokenID)
	if normalizedAccountID == "" {
		return 0, fmt.Errorf("account ID is required")
	}
	if normalizedTokenID == "" {
		return 0, fmt.Errorf("token ID is required")
	}

	values := url.Values{}
	values.Set("token.id", normalizedTokenID)
	next := fmt.Sprintf("/api/v1/accounts/%s/tokens?%s", url.PathEscape(normalizedAccountID), values.Encode())

	for next != "" {
		var page tokenBalancesResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return 0, err
		}
		for _, token := range page.Tokens {
			if token.TokenID == normalizedTokenID {
				return token.Balance, nil
			}
		}
		next = page.Links.Next
	}

	return 0, nil
}

// GetTopicMessages returns every message matching options, following
// pagination.
func (c *Client) GetTopicMessages(
	ctx context.Context,
	topicID string,
	options MessageQueryOptions,
) ([]TopicMessage, error) {
	if strings.TrimSpace(topicID) == "" {
		return nil, fmt.Errorf("topic ID is required")
	}

	values := url.Values{}
	if options.SequenceNumber != "" {
		values.Set("sequencenumber", options.SequenceNumber)
	}
	if options.Timestamp != "" {
		values.Set("timestamp", options.Timestamp)
	}
	if options.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", options.Limit))
	}
	if options.Order != "" {
		values.Set("order", options.Order)
	}

	endpoint := fmt.Sprintf("/api/v1/topics/%s/messages", strings.TrimSpace(topicID))
	if encoded := values.Encode(); encoded != "" {
		endpoint = fmt.Sprintf("%s?%s", endpoint, encoded)
	}

	result := make([]TopicMessage, 0)
	next := endpoint

	for next != "" {
		var page topicMessagesResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}

		result = append(result, page.Messages...)
		next = page.Links.Next
	}

	return result, nil
}

// DecodeMessageData base64-decodes a topic message payload.
func DecodeMessageData(message TopicMessage) ([]byte, error) {
	if strings.TrimSpace(message.Message) == "" {
		return nil, fmt.Errorf("message payload is empty")
	}
	return base64.StdEncoding.DecodeString(message.Message)
}

// GetTransaction looks up a transaction by ID. Both the SDK form
// (0.0.5005@1700000000.123456789) and the mirror form
// (0.0.5005-1700000000-123456789) are accepted. A nil transaction with a nil
// error means the mirror node has not seen it yet.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	normalized := NormalizeTransactionID(transactionID)
	if normalized == "" {
		return nil, fmt.Errorf("transaction ID is required")
	}

	var response transactionsResponse
	if err := c.getJSON(ctx, "/api/v1/transactions/"+url.PathEscape(normalized), &response); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(response.Transactions) == 0 {
		return nil, nil
	}

	return &response.Transactions[0], nil
}

// NormalizeTransactionID rewrites an SDK transaction ID into the mirror
// node path form.
func NormalizeTransactionID(transactionID string) string {
	normalized := strings.TrimSpace(transactionID)
	account, validStart, found := strings.Cut(normalized, "@")
	if !found {
		return normalized
	}
	validStart, _, _ = strings.Cut(validStart, "?")
	return account + "-" + strings.Replace(validStart, ".", "-", 1)
}

// TokenTransferTo sums the base units of tokenID credited to account in tx.
func TokenTransferTo(transaction Transaction, tokenID string, account string) int64 {
	var total int64
	for _, transfer := range transaction.TokenTransfers {
		if transfer.TokenID == tokenID && transfer.Account == account {
			total += transfer.Amount
		}
	}
	return total
}

func (c *Client) getJSON(ctx context.Context, pathOrURL string, target any) error {
	requestURL := c.resolveURL(pathOrURL)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
	for key, value := range c.headers {
		request.Header.Set(key, value)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("mirror node request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read mirror node response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode mirror node response: %w", err)
	}

	return nil
}

func (c *Client) resolveURL(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}

	path := pathOrURL
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.baseURL + path
}
