package staking

import (
	"context"

	"github.com/elys-network/stakeledger/internal/types"
)

// Recorder receives ledger state after each committed operation.
// Errors are logged by the ledger and never undo the operation.
type Recorder interface {
	RecordPool(ctx context.Context, pool types.RewardPool) error
	RecordParticipant(ctx context.Context, participant types.Participant) error
	RecordOrder(ctx context.Context, order types.ComputeOrder) error
	RecordClaim(ctx context.Context, receipt types.ClaimReceipt) (int64, error)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordPool(context.Context, types.RewardPool) error         { return nil }
func (NopRecorder) RecordParticipant(context.Context, types.Participant) error { return nil }
func (NopRecorder) RecordOrder(context.Context, types.ComputeOrder) error      { return nil }
func (NopRecorder) RecordClaim(context.Context, types.ClaimReceipt) (int64, error) {
	return 0, nil
}

type operationIDKey struct{}

// WithOperationID tags ctx with the id of the operation being processed.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the id stored by WithOperationID, or "".
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}
