package web

import (
	"fmt"
	"net/http"
	"strconv"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/gorilla/mux"

	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/types"
)

type registerRequest struct {
	Upline string `json:"upline"`
}

type enterRequest struct {
	Slot   uint64          `json:"slot"`
	Tier   string          `json:"tier"`
	Amount uint64          `json:"amount"`
	Source types.AccountID `json:"source"`
}

type claimRequest struct {
	RewardAccount types.AccountID `json:"reward_account"`
	UplineAccount types.AccountID `json:"upline_account"`
}

type cancelRequest struct {
	Destination types.AccountID `json:"destination"`
}

type withdrawRequest struct {
	Destination types.AccountID `json:"destination"`
	Amount      uint64          `json:"amount"`
}

type openOrderRequest struct {
	Index  uint64 `json:"index"`
	Upline string `json:"upline"`
}

type powerRequest struct {
	Amount uint64        `json:"amount"`
	Burn   *staking.Burn `json:"burn,omitempty"`
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := ws.operator.Pools()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
		"now":   ws.operator.Now(),
	})
}

func (ws *WebServer) handleGetCheckpoints(w http.ResponseWriter, r *http.Request) {
	poolKey := mux.Vars(r)["pool"]
	known := false
	for _, pool := range ws.operator.Pools() {
		if pool.Key() == poolKey {
			known = true
			break
		}
	}
	if !known {
		ws.writeErrorResponse(w, http.StatusNotFound, "unknown pool "+poolKey)
		return
	}

	limit := defaultClaimLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= maxClaimLimit {
			limit = parsedLimit
		}
	}

	checkpoints, err := ws.operator.PoolCheckpoints(r.Context(), poolKey, limit)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pool":        poolKey,
		"checkpoints": checkpoints,
		"count":       len(checkpoints),
	})
}

func (ws *WebServer) handleGetClaims(w http.ResponseWriter, r *http.Request) {
	limit := defaultClaimLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= maxClaimLimit {
			limit = parsedLimit
		}
	}

	owner, err := optionalAddress(r.URL.Query().Get("owner"))
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	var claims interface{}
	var count int
	if owner != nil {
		owned, err := ws.operator.ClaimsByOwner(owner, limit)
		if err != nil {
			ws.writeLedgerError(w, r, err)
			return
		}
		claims, count = owned, len(owned)
	} else {
		recent, err := ws.operator.RecentClaims(limit)
		if err != nil {
			ws.writeLedgerError(w, r, err)
			return
		}
		claims, count = recent, len(recent)
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"claims": claims,
		"count":  count,
		"limit":  limit,
	})
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.operator.Summary()
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) handleRegisterParticipant(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	upline, err := optionalAddress(req.Upline)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	if err := ws.operator.RegisterParticipant(r.Context(), caller, upline); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	participant, err := ws.operator.Participant(caller)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, participant)
}

func (ws *WebServer) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r, "address")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	participant, err := ws.operator.Participant(address)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, participant)
}

func (ws *WebServer) handleGetPending(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r, "address")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	slot, err := pathUint(r, "slot")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	pending, err := ws.operator.PendingReward(address, slot)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"address": address.String(),
		"slot":    slot,
		"pending": pending,
	})
}

func (ws *WebServer) handleEnter(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req enterRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	tier, err := types.ParseTier(req.Tier)
	if err != nil {
		ws.writeLedgerError(w, r, fmt.Errorf("%w: %v", staking.ErrInvalidTier, err))
		return
	}

	err = ws.operator.Enter(r.Context(), staking.EnterRequest{
		Caller: caller,
		Slot:   req.Slot,
		Tier:   tier,
		Amount: req.Amount,
		Source: req.Source,
	})
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	participant, err := ws.operator.Participant(caller)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, participant.Slots[req.Slot])
}

func (ws *WebServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	slot, err := pathUint(r, "slot")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	result, err := ws.operator.Claim(r.Context(), staking.ClaimRequest{
		Caller:        caller,
		Slot:          slot,
		RewardAccount: req.RewardAccount,
		UplineAccount: req.UplineAccount,
	})
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

func (ws *WebServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	slot, err := pathUint(r, "slot")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	err = ws.operator.Cancel(r.Context(), staking.CancelRequest{Caller: caller, Slot: slot, Destination: req.Destination})
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"cancelled": true, "slot": slot})
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	if err := ws.operator.WithdrawRewards(r.Context(), caller, req.Destination, req.Amount); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"withdrawn": req.Amount, "destination": req.Destination})
}

func (ws *WebServer) handleOpenOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req openOrderRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	upline, err := optionalAddress(req.Upline)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	if err := ws.operator.OpenOrder(r.Context(), caller, upline, req.Index); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeOrder(w, r, http.StatusCreated, caller, req.Index)
}

func (ws *WebServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	index, err := pathUint(r, "index")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	order, err := ws.operator.Order(owner, index)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	pending, err := ws.operator.OrderPendingReward(owner, index)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"order":   order,
		"pending": pending,
	})
}

func (ws *WebServer) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	owner, index, ok := ws.orderPath(w, r)
	if !ok {
		return
	}
	var receipt types.PurchaseReceipt
	if err := decodeBody(r, &receipt); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	if err := ws.operator.RecordPurchase(r.Context(), caller, owner, index, receipt); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeOrder(w, r, http.StatusOK, owner, index)
}

func (ws *WebServer) handleEnterOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	index, err := pathUint(r, "index")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	if err := ws.operator.EnterOrder(r.Context(), caller, index); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeOrder(w, r, http.StatusOK, caller, index)
}

func (ws *WebServer) handleAddPower(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	owner, index, ok := ws.orderPath(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	if err := ws.operator.AddPower(r.Context(), caller, owner, index, req.Amount, req.Burn); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeOrder(w, r, http.StatusOK, owner, index)
}

func (ws *WebServer) handleReducePower(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	owner, index, ok := ws.orderPath(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	if err := ws.operator.ReducePower(r.Context(), caller, owner, index, req.Amount); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeOrder(w, r, http.StatusOK, owner, index)
}

func (ws *WebServer) handleClaimOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	index, err := pathUint(r, "index")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}

	result, err := ws.operator.ClaimOrder(r.Context(), staking.ComputeClaimRequest{
		Caller:        caller,
		Index:         index,
		RewardAccount: req.RewardAccount,
		UplineAccount: req.UplineAccount,
	})
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

func (ws *WebServer) orderPath(w http.ResponseWriter, r *http.Request) (sdk.AccAddress, uint64, bool) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return nil, 0, false
	}
	index, err := pathUint(r, "index")
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return nil, 0, false
	}
	return owner, index, true
}

// writeOrder responds with the current state of an order after a write.
func (ws *WebServer) writeOrder(w http.ResponseWriter, r *http.Request, status int, owner sdk.AccAddress, index uint64) {
	order, err := ws.operator.Order(owner, index)
	if err != nil {
		ws.writeLedgerError(w, r, err)
		return
	}
	ws.writeJSONResponse(w, status, order)
}
