// Package lightning is the wallet SDK boundary. All SDK response shapes are
// normalized here, once, into the types the rest of the backend consumes.
package lightning

import (
	"context"
	"errors"
)

// Sentinel errors for the failure taxonomy the gift flow surfaces to users.
var (
	ErrNotConnected       = errors.New("wallet not connected")
	ErrUnsupportedInvoice = errors.New("unsupported payment request type")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPaymentFailed      = errors.New("payment failed")
)

// PaymentState is the settlement state of a payment on the network.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateSucceeded PaymentState = "succeeded"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateUnknown   PaymentState = "unknown"
)

// Invoice is a parsed BOLT11 payment request.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	AmountSats     int64
	Description    string
	ExpirySecs     int64
}

// PreparedPayment is a payment with its fee estimate, ready to send.
type PreparedPayment struct {
	Invoice *Invoice
	FeeSats int64
}

// SendResult is the settlement result of a sent payment.
type SendResult struct {
	PaymentHash string
	Preimage    string
	FeeSats     int64
	State       PaymentState
}

// NodeInfo describes the connected Lightning node.
type NodeInfo struct {
	Pubkey      string
	Network     string
	BalanceSats int64
}

// SDK is the Lightning wallet abstraction the gift flow drives. Every
// operation is a remote call and honors context cancellation.
type SDK interface {
	// Connect initializes the node session. Other calls return
	// ErrNotConnected until it succeeds.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	NodeInfo(ctx context.Context) (*NodeInfo, error)

	// ParseInvoice parses a payment request string. Non-BOLT11 inputs
	// return ErrUnsupportedInvoice.
	ParseInvoice(ctx context.Context, paymentRequest string) (*Invoice, error)

	// PrepareSend returns a fee estimate for the parsed invoice. A balance
	// below amount+fee returns ErrInsufficientFunds.
	PrepareSend(ctx context.Context, invoice *Invoice) (*PreparedPayment, error)

	// SendPayment submits the prepared payment for settlement. There is no
	// way to abort a submitted payment.
	SendPayment(ctx context.Context, prepared *PreparedPayment) (*SendResult, error)

	// PaymentStatus re-queries the final state of a payment by hash. Used
	// by the reconciliation job for gifts stuck pending.
	PaymentStatus(ctx context.Context, paymentHash string) (PaymentState, error)
}

// IsValidNetwork reports whether the network selector is recognized.
func IsValidNetwork(network string) bool {
	switch network {
	case "mainnet", "testnet", "regtest":
		return true
	}
	return false
}
