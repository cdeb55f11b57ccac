package vault

import (
	"fmt"

	"github.com/google/uuid"

	vmath "VaultLedger/internal/math"
)

// SettledTicket records one ticket resolved during a drain pass.
type SettledTicket struct {
	TicketID  uint64    `json:"ticket_id"`
	Owner     uuid.UUID `json:"owner"`
	Action    Action    `json:"action"`
	Amount    int64     `json:"amount"` // queued amount: assets for deposits, shares for withdrawals
	Epoch     int64     `json:"epoch"`
	PriceWad  int64     `json:"price_wad"`
	SharesOut int64     `json:"shares_out,omitempty"` // minted on deposit settlement
	AssetsOut int64     `json:"assets_out,omitempty"` // paid on withdrawal settlement
}

// ActionResult reports what one user entry point did: tickets settled by
// the claim-then-act drain, plus the newly issued ticket when the call
// queued a request.
type ActionResult struct {
	Settled     []SettledTicket `json:"settled,omitempty"`
	TicketID    uint64          `json:"ticket_id,omitempty"`
	Amount      int64           `json:"amount,omitempty"` // queued amount: assets or shares
	TargetEpoch int64           `json:"target_epoch,omitempty"`
}

// Deposit settles the caller's matured tickets, then queues amount native
// asset units for conversion at the next finalized price. Assets move into
// the pool immediately; shares are minted at settlement.
func (v *Vault) Deposit(user uuid.UUID, amount int64) (*ActionResult, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	if amount <= 0 {
		return nil, ErrZeroAmount
	}

	settled, err := v.drain(user)
	if err != nil {
		return nil, err
	}

	// Deposited capital sweeps straight through to the operator for
	// deployment; the pool's own balance holds only withdrawal funding.
	// The next NAV report prices the deployed capital back in.
	if err := v.bank.TransferIn(user, amount); err != nil {
		return nil, fmt.Errorf("vault: deposit transfer: %w", err)
	}
	if err := v.bank.TransferOut(v.operator, amount); err != nil {
		return nil, fmt.Errorf("vault: deposit sweep: %w", err)
	}

	target := v.epochs.Current() + 1
	id := v.tickets.Issue(user)
	v.positions[id] = Position{Owner: user, Action: ActionDeposit, Amount: amount, TargetEpoch: target}
	v.pendingDeposits += amount

	v.log.Debug().Str("user", user.String()).Uint64("ticket", id).
		Int64("amount", amount).Int64("target_epoch", target).Msg("deposit queued")
	return &ActionResult{Settled: settled, TicketID: id, Amount: amount, TargetEpoch: target}, nil
}

// Withdraw settles the caller's matured tickets, then queues shareAmount
// share units for redemption at the next finalized price. The shares move
// into the pool's own custody immediately and are burned when the epoch
// that prices them settles.
func (v *Vault) Withdraw(user uuid.UUID, shareAmount int64) (*ActionResult, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	if shareAmount <= 0 {
		return nil, ErrZeroAmount
	}

	settled, err := v.drain(user)
	if err != nil {
		return nil, err
	}

	if err := v.shares.Transfer(user, v.self, shareAmount); err != nil {
		return nil, fmt.Errorf("vault: withdraw escrow: %w", err)
	}

	target := v.epochs.Current() + 1
	id := v.tickets.Issue(user)
	v.positions[id] = Position{Owner: user, Action: ActionWithdraw, Amount: shareAmount, TargetEpoch: target}
	v.pendingWithdrawShares += shareAmount

	v.log.Debug().Str("user", user.String()).Uint64("ticket", id).
		Int64("shares", shareAmount).Int64("target_epoch", target).Msg("withdrawal queued")
	return &ActionResult{Settled: settled, TicketID: id, Amount: shareAmount, TargetEpoch: target}, nil
}

// Claim settles the caller's matured tickets without queuing anything.
// Calling it again before a new epoch finalizes is a no-op.
func (v *Vault) Claim(user uuid.UUID) (*ActionResult, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	settled, err := v.drain(user)
	if err != nil {
		return nil, err
	}
	return &ActionResult{Settled: settled}, nil
}

// drain settles every matured ticket the user holds: deposits first, then
// withdrawals, each partition in ticket issue order. A ticket whose target
// epoch has no finalized price stays queued.
func (v *Vault) drain(user uuid.UUID) ([]SettledTicket, error) {
	ids := v.tickets.Enumerate(user)
	if len(ids) == 0 {
		return nil, nil
	}

	var deposits, withdraws []uint64
	for _, id := range ids {
		pos, ok := v.positions[id]
		if !ok {
			return nil, fmt.Errorf("vault: ticket %d has no position", id)
		}
		if v.epochs.PriceAt(pos.TargetEpoch) == 0 {
			continue // not matured
		}
		if pos.Action == ActionDeposit {
			deposits = append(deposits, id)
		} else {
			withdraws = append(withdraws, id)
		}
	}

	settled := make([]SettledTicket, 0, len(deposits)+len(withdraws))
	for _, id := range deposits {
		s, err := v.settleDeposit(id)
		if err != nil {
			return nil, err
		}
		settled = append(settled, s)
	}
	for _, id := range withdraws {
		s, err := v.settleWithdraw(id)
		if err != nil {
			return nil, err
		}
		settled = append(settled, s)
	}
	return settled, nil
}

func (v *Vault) settleDeposit(id uint64) (SettledTicket, error) {
	pos := v.positions[id]
	price := v.epochs.PriceAt(pos.TargetEpoch)

	norm, err := v.scaler.Normalize(pos.Amount)
	if err != nil {
		return SettledTicket{}, fmt.Errorf("vault: settle deposit %d: %w", id, err)
	}
	minted, err := vmath.WadDiv(norm, price)
	if err != nil {
		return SettledTicket{}, fmt.Errorf("vault: settle deposit %d: %w", id, err)
	}
	if minted > 0 {
		if err := v.shares.Mint(pos.Owner, minted); err != nil {
			return SettledTicket{}, fmt.Errorf("vault: settle deposit %d: %w", id, err)
		}
	}

	v.pendingDeposits -= pos.Amount
	delete(v.positions, id)
	if err := v.tickets.Revoke(id); err != nil {
		return SettledTicket{}, fmt.Errorf("vault: settle deposit %d: %w", id, err)
	}

	v.log.Debug().Uint64("ticket", id).Int64("epoch", pos.TargetEpoch).
		Int64("shares", minted).Msg("deposit settled")
	return SettledTicket{
		TicketID: id, Owner: pos.Owner, Action: ActionDeposit,
		Amount: pos.Amount, Epoch: pos.TargetEpoch, PriceWad: price, SharesOut: minted,
	}, nil
}

func (v *Vault) settleWithdraw(id uint64) (SettledTicket, error) {
	pos := v.positions[id]
	price := v.epochs.PriceAt(pos.TargetEpoch)

	// The escrowed shares were burned and their value reserved when the
	// target epoch settled; here the reserve pays out. Two-step floor so
	// the sum of payouts never exceeds what was reserved.
	norm, err := vmath.WadMul(pos.Amount, price)
	if err != nil {
		return SettledTicket{}, fmt.Errorf("vault: settle withdraw %d: %w", id, err)
	}
	assets := v.scaler.Denormalize(norm)
	if assets > 0 {
		if err := v.bank.TransferOut(pos.Owner, assets); err != nil {
			return SettledTicket{}, fmt.Errorf("vault: settle withdraw %d: %w", id, err)
		}
		v.withdrawReserve -= assets
	}

	delete(v.positions, id)
	if err := v.tickets.Revoke(id); err != nil {
		return SettledTicket{}, fmt.Errorf("vault: settle withdraw %d: %w", id, err)
	}

	v.log.Debug().Uint64("ticket", id).Int64("epoch", pos.TargetEpoch).
		Int64("assets", assets).Msg("withdrawal settled")
	return SettledTicket{
		TicketID: id, Owner: pos.Owner, Action: ActionWithdraw,
		Amount: pos.Amount, Epoch: pos.TargetEpoch, PriceWad: price, AssetsOut: assets,
	}, nil
}
