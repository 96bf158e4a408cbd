// Package shared holds the Hedera plumbing used by the vesting SDK: network
// normalisation, operator and vault credentials from the environment, key
// parsing, and client construction.
//
// # Environment Variables
//
// Credentials are read from the process environment, falling back to the
// first .env file found walking up from the working directory. VESTING_*
// names win over the generic HEDERA_* names, and network-scoped names
// (MAINNET_*, TESTNET_*) win over both:
//
//	VESTING_NETWORK / HEDERA_NETWORK
//	VESTING_OPERATOR_ID / HEDERA_ACCOUNT_ID / HEDERA_OPERATOR_ID
//	VESTING_OPERATOR_KEY / HEDERA_PRIVATE_KEY / HEDERA_OPERATOR_KEY
//	VESTING_TOKEN_ID
//	VESTING_VAULT_ACCOUNT_ID
//
// The operator signs vault transfers, so the vault account defaults to the
// operator account when VESTING_VAULT_ACCOUNT_ID is unset.
package shared
