// Package api serves a read-only HTTP view of the vesting ledger with fiber.
//
// # Routes
//
//	GET /healthz
//	GET /api/v1/status
//	GET /api/v1/schedules?beneficiary=<account>
//	GET /api/v1/schedules/:id
//	GET /api/v1/schedules/:id/releasable?at=<RFC3339>
//
// Claims, revocations and admin changes are not exposed; they go through the
// engine directly or the vestingd CLI.
//
// Errors are JSON objects with "error" and "code" fields. Unknown schedules
// answer 404, malformed query parameters 400.
package api
