package mirror

type TokenInfo struct {
	TokenID       string `json:"token_id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      string `json:"decimals"`
	TotalSupply   string `json:"total_supply"`
	TreasuryID    string `json:"treasury_account_id"`
	Type          string `json:"type"`
	Deleted       bool   `json:"deleted"`
	PauseStatus   string `json:"pause_status"`
	CreatedAt     string `json:"created_timestamp"`
	ModifiedAt    string `json:"modified_timestamp"`
	SupplyType    string `json:"supply_type"`
	FreezeDefault bool   `json:"freeze_default"`
}

type TokenBalance struct {
	TokenID  string `json:"token_id"`
	Balance  uint64 `json:"balance"`
	Decimals int    `json:"decimals"`
}

type tokenBalancesResponse struct {
	Tokens []TokenBalance `json:"tokens"`
	Links  struct {
		Next string `json:"next"`
	} `json:"links"`
}

type TopicMessage struct {
	ConsensusTimestamp string     `json:"consensus_timestamp"`
	ChunkInfo          *ChunkInfo `json:"chunk_info,omitempty"`
	Message            string     `json:"message"`
	PayerAccountID     string     `json:"payer_account_id"`
	RunningHash        string     `json:"running_hash"`
	RunningHashVersion int64      `json:"running_hash_version"`
	SequenceNumber     int64      `json:"sequence_number"`
	TopicID            string     `json:"topic_id"`
}

type ChunkInfo struct {
	InitialTransactionID any `json:"initial_transaction_id,omitempty"`
	Number               int `json:"number,omitempty"`
	Total                int `json:"total,omitempty"`
}

type topicMessagesResponse struct {
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Messages []TopicMessage `json:"messages"`
}

type Transaction struct {
	ChargedTxFee       int64           `json:"charged_tx_fee"`
	ConsensusTimestamp string          `json:"consensus_timestamp"`
	MemoBase64         string          `json:"memo_base64"`
	Name               string          `json:"name"`
	Result             string          `json:"result"`
	TransactionID      string          `json:"transaction_id"`
	Transfers          []Transfer      `json:"transfers"`
	TokenTransfers     []TokenTransfer `json:"token_transfers"`
}

type Transfer struct {
	Account    string `json:"account"`
	Amount     int64  `json:"amount"`
	IsApproval bool   `json:"is_approval"`
}

type TokenTransfer struct {
	TokenID    string `json:"token_id"`
	Account    string `json:"account"`
	Amount     int64  `json:"amount"`
	IsApproval bool   `json:"is_approval"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}
