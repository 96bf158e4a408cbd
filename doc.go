// The Hashgraph Online Vesting SDK for Go is a token vesting ledger for the
// Hedera Token Service. It releases a locked grant linearly to a beneficiary
// after a cliff, lets admins revoke schedules and recover unvested funds, and
// supports an emergency pause.
//
// # Packages
//
//   - pkg/vesting: schedule math, the vesting engine and its Store contract
//   - pkg/hts: Hedera Token Service transfer backend
//   - pkg/mirror: mirror node REST client
//   - pkg/audit: signed audit envelopes on a consensus topic, plus replay
//   - pkg/store/sqlitestore, pkg/store/pgstore, pkg/store/redisstore: durable ledgers
//   - pkg/api: read-only HTTP API
//   - pkg/config: YAML and environment configuration
//   - cmd/vestingd: command line and server
//
// # Documentation
//
// Hedera Token Service: https://docs.hedera.com/hedera/sdks-and-apis/sdks/token-service
//
// Hashgraph Online ecosystem: https://hol.org
//
// # Installation
//
//	go get github.com/hashgraph-online/vesting-sdk-go@latest
package vesting_sdk_go
