// Package hts pays vesting releases out of a custodial vault account using
// Hedera Token Service transfers. Client satisfies vesting.TransferBackend:
// every claim or recovery becomes one TransferTransaction debiting the vault
// and crediting the recipient, signed by the operator key.
//
// # Usage
//
//	backend, err := hts.NewClient(hts.ClientConfig{
//		OperatorAccountID:  "0.0.5005",
//		OperatorPrivateKey: os.Getenv("VESTING_OPERATOR_KEY"),
//		Network:            "testnet",
//		TokenID:            "0.0.7007",
//	})
//
//	engine, err := vesting.NewEngine(vesting.EngineConfig{
//		Store:          vesting.NewMemoryStore(),
//		Backend:        backend,
//		VaultAccountID: backend.VaultAccountID(),
//	})
//
// Amounts are token base units. HTS transfer amounts are signed 64-bit, so a
// single release above math.MaxInt64 is rejected before submission.
package hts
