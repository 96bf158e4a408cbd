// Package mirror is a read-only Hedera mirror node client for the vesting
// SDK. It answers the questions the vesting engine cannot answer from its own
// ledger: how many tokens the vault still holds, whether a release transfer
// reached consensus, and what the audit topic recorded.
//
// # Usage
//
//	client, err := mirror.NewClient(mirror.Config{Network: "testnet"})
//	balance, err := client.GetTokenBalance(ctx, "0.0.5005", "0.0.7007")
//
//	messages, err := client.GetTopicMessages(ctx, "0.0.8008", mirror.MessageQueryOptions{
//		Order: "asc",
//	})
//
// Paged endpoints follow the mirror node "links.next" cursor until
// exhausted.
package mirror
