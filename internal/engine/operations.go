package engine

import (
	"context"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/elys-network/stakeledger/internal/metrics"
	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/types"
)

// Tiered ledger operations.

func (e *Engine) RegisterParticipant(ctx context.Context, address, upline sdk.AccAddress) error {
	return e.run(ctx, "register_participant", address, func(ctx context.Context, _ uint64) error {
		ledger, err := e.tieredLedger()
		if err != nil {
			return err
		}
		return ledger.RegisterParticipant(ctx, address, upline)
	})
}

func (e *Engine) Enter(ctx context.Context, req staking.EnterRequest) error {
	return e.run(ctx, "enter", req.Caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.tieredLedger()
		if err != nil {
			return err
		}
		return ledger.Enter(ctx, req, now)
	})
}

func (e *Engine) Claim(ctx context.Context, req staking.ClaimRequest) (staking.ClaimResult, error) {
	var result staking.ClaimResult
	err := e.run(ctx, "claim", req.Caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.tieredLedger()
		if err != nil {
			return err
		}
		result, err = ledger.Claim(ctx, req, now)
		if err != nil {
			return err
		}
		metrics.ObserveClaim(types.VariantTiered, result.Outcome, result.Payouts)
		return nil
	})
	return result, err
}

func (e *Engine) Cancel(ctx context.Context, req staking.CancelRequest) error {
	return e.run(ctx, "cancel", req.Caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.tieredLedger()
		if err != nil {
			return err
		}
		return ledger.Cancel(ctx, req, now)
	})
}

func (e *Engine) WithdrawRewards(ctx context.Context, caller sdk.AccAddress, destination types.AccountID, amount uint64) error {
	return e.run(ctx, "withdraw_rewards", caller, func(ctx context.Context, _ uint64) error {
		ledger, err := e.tieredLedger()
		if err != nil {
			return err
		}
		return ledger.WithdrawRewards(ctx, caller, destination, amount)
	})
}

func (e *Engine) Participant(address sdk.AccAddress) (types.Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.tieredLedger()
	if err != nil {
		return types.Participant{}, err
	}
	return ledger.Participant(address)
}

func (e *Engine) PendingReward(address sdk.AccAddress, slot uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.tieredLedger()
	if err != nil {
		return 0, err
	}
	return ledger.PendingReward(address, slot, e.clock())
}

// Compute ledger operations.

func (e *Engine) OpenOrder(ctx context.Context, owner, upline sdk.AccAddress, index uint64) error {
	return e.run(ctx, "open_order", owner, func(ctx context.Context, _ uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		return ledger.OpenOrder(ctx, owner, upline, index)
	})
}

func (e *Engine) RecordPurchase(ctx context.Context, caller, owner sdk.AccAddress, index uint64, receipt types.PurchaseReceipt) error {
	return e.run(ctx, "record_purchase", caller, func(ctx context.Context, _ uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		return ledger.RecordPurchase(ctx, caller, owner, index, receipt)
	})
}

func (e *Engine) EnterOrder(ctx context.Context, caller sdk.AccAddress, index uint64) error {
	return e.run(ctx, "enter_order", caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		return ledger.Enter(ctx, caller, index, now)
	})
}

func (e *Engine) AddPower(ctx context.Context, caller, owner sdk.AccAddress, index, amount uint64, burn *staking.Burn) error {
	return e.run(ctx, "add_power", caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		return ledger.AddPower(ctx, caller, owner, index, amount, burn, now)
	})
}

func (e *Engine) ReducePower(ctx context.Context, caller, owner sdk.AccAddress, index, amount uint64) error {
	return e.run(ctx, "reduce_power", caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		return ledger.ReducePower(ctx, caller, owner, index, amount, now)
	})
}

func (e *Engine) ClaimOrder(ctx context.Context, req staking.ComputeClaimRequest) (staking.ClaimResult, error) {
	var result staking.ClaimResult
	err := e.run(ctx, "claim_order", req.Caller, func(ctx context.Context, now uint64) error {
		ledger, err := e.computeLedger()
		if err != nil {
			return err
		}
		result, err = ledger.Claim(ctx, req, now)
		if err != nil {
			return err
		}
		metrics.ObserveClaim(types.VariantCompute, result.Outcome, result.Payouts)
		return nil
	})
	return result, err
}

func (e *Engine) Order(owner sdk.AccAddress, index uint64) (types.ComputeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.computeLedger()
	if err != nil {
		return types.ComputeOrder{}, err
	}
	return ledger.Order(owner, index)
}

func (e *Engine) OrderPendingReward(owner sdk.AccAddress, index uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ledger, err := e.computeLedger()
	if err != nil {
		return 0, err
	}
	return ledger.PendingReward(owner, index, e.clock())
}
