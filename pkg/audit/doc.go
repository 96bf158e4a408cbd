// Package audit publishes vesting events to a Hedera Consensus Service topic
// and replays them back from the mirror node.
//
// Each event is wrapped in an Envelope, optionally signed with a secp256k1
// key, and submitted as one topic message. Large envelopes can be brotli
// compressed and carried as {"c":"data:application/json;base64,..."}.
//
// # Publishing
//
//	publisher, err := audit.NewPublisher(audit.PublisherConfig{
//		Submitter: audit.NewHederaSubmitter(hederaClient),
//		TopicID:   "0.0.8008",
//		Signer:    signer,
//	})
//
//	engine, err := vesting.NewEngine(vesting.EngineConfig{
//		Store:  store,
//		Events: publisher,
//	})
//
// # Replay
//
//	result, err := audit.Replay(ctx, mirrorClient, "0.0.8008", audit.ReplayOptions{
//		TrustedSigners: []string{signer.PublicKeyHex()},
//	})
//	trails := audit.Summarize(result.Records)
package audit
