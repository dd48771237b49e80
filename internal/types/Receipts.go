package types

import "time"

// Variant names a ledger.
type Variant string

const (
	VariantTiered  Variant = "tiered"
	VariantCompute Variant = "compute"
)

// ClaimOutcome is the result of a successful claim call.
type ClaimOutcome string

const (
	OutcomePaid              ClaimOutcome = "paid"
	OutcomeDeferredShortfall ClaimOutcome = "deferred_shortfall"
)

// ClaimReceipt records one successful claim call.
type ClaimReceipt struct {
	ReceiptID   int64        `json:"receipt_id,omitempty"` // Auto-incremented by DB
	OperationID string       `json:"operation_id"`
	Variant     Variant      `json:"variant"`
	Owner       string       `json:"owner"`
	Slot        uint64       `json:"slot"` // slot for tiered, order index for compute
	Total       uint64       `json:"total"`
	Payouts     []Payout     `json:"payouts"`
	Outcome     ClaimOutcome `json:"outcome"`
	Timestamp   time.Time    `json:"timestamp"`
}

// PaidTotal sums the payout legs.
func (r ClaimReceipt) PaidTotal() uint64 {
	var sum uint64
	for _, p := range r.Payouts {
		sum += p.Amount
	}
	return sum
}
