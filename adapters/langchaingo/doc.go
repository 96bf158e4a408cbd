// Package langchaingo exposes vesting ledger queries as tools for the
// tmc/langchaingo agent framework.
//
// # Available Tools
//
//   - ReleasableTool: reports vested and claimable amounts for a schedule.
//   - BeneficiarySchedulesTool: lists the schedules granted to an account.
//
// Both tools are read-only. They never claim, revoke or change admin state.
//
// # Usage
//
//	engine, _ := vesting.NewEngine(vesting.EngineConfig{Store: store})
//	agent := agents.NewOneShotAgent(llm, []tools.Tool{
//		langchaingo.NewReleasableTool(engine),
//		langchaingo.NewBeneficiarySchedulesTool(engine),
//	})
//
// Langchaingo: https://github.com/tmc/langchaingo
package langchaingo
