// Package payment gates query processing on a confirmed on-chain payment.
// The orchestrator consumes a single Validate call; the mechanics of
// confirmation counting and log decoding stay behind it.
package payment

import "context"

// Validator checks that a payment transaction entitles the payer to one
// query. The reason string is reported to the caller verbatim on rejection.
type Validator interface {
	Validate(ctx context.Context, txRef, payer string, useCredits bool) (ok bool, reason string)
}

// StaticValidator accepts every payment. Used for local development and
// tests when payment validation is switched off.
type StaticValidator struct{}

// Validate always succeeds.
func (StaticValidator) Validate(context.Context, string, string, bool) (bool, string) {
	return true, "Payment validation disabled"
}
