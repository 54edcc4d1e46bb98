// Package gift implements the gift settlement flow: invoice relay, wallet
// SDK orchestration, persistence of gift state, and reconciliation of gifts
// stuck pending.
package gift

import "errors"

// Failure taxonomy surfaced to users. Handlers map these to messages; the
// orchestrator never leaks raw SDK errors past this boundary.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrSDKNotReady        = errors.New("wallet SDK not ready")
	ErrNoReceivingKey     = errors.New("streamer does not have a wallet set up")
	ErrInvoiceRequest     = errors.New("invoice request failed")
	ErrParseRejected      = errors.New("unsupported payment request")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPaymentFailed      = errors.New("payment failed")
)
