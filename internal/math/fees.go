package math

import (
	"errors"
	"fmt"
)

// SecondsPerYear is the management-fee annualization basis (365 days).
const SecondsPerYear int64 = 31_536_000

var (
	ErrZeroPrice    = errors.New("math: share price would be zero")
	ErrNegativeNav  = errors.New("math: negative nav")
	ErrNegativeRate = errors.New("math: negative fee rate")
)

// FeeInput carries everything the fee accrual needs for one epoch
// transition. NavNorm is the reported NAV already normalized to WAD scale;
// Supply is the total share supply before any fee minting.
type FeeInput struct {
	NavNorm        int64
	Supply         int64
	HighWaterMark  int64 // WAD price, from the previous transition
	MgmtFeeWad     int64 // annual rate, WAD scale
	PerfFeeWad     int64 // rate on gain above the high-water mark, WAD scale
	ElapsedSeconds int64 // since the previous transition; 0 skips management fee
	// SkipClampedMint disables performance-fee minting when the
	// fee-per-share clamp fires, instead of minting at the clamped value.
	SkipClampedMint bool
}

// FeeResult is the outcome of one fee accrual. MgmtShares and PerfShares
// are minted to the operator; PriceAfter is the settlement price recorded
// for the epoch.
type FeeResult struct {
	PricePre         int64 // nav / supply before fees
	PriceAfterMgmt   int64
	PriceAfter       int64
	MgmtShares       int64
	PerfShares       int64
	NewHighWaterMark int64
	PerfClamped      bool
}

// ComputeFees derives the epoch settlement price and operator fee mints
// from a NAV report. Pure: no state is touched.
//
// Management fee is taken as a pro-rata price haircut with a
// dilution-neutral mint: existing holders lose exactly the fee fraction of
// value, the operator's new shares are worth exactly what holders lost.
// Performance fee applies only to price appreciation above the prior
// high-water mark, and fee-per-share is clamped so the resulting price
// stays positive.
func ComputeFees(in FeeInput) (FeeResult, error) {
	if in.NavNorm < 0 {
		return FeeResult{}, ErrNegativeNav
	}
	if in.MgmtFeeWad < 0 || in.PerfFeeWad < 0 {
		return FeeResult{}, ErrNegativeRate
	}

	// Empty pool: the price series resets to 1.0 and no fees accrue. The
	// high-water mark never moves below 1.0.
	if in.Supply == 0 {
		hwm := in.HighWaterMark
		if hwm < WAD {
			hwm = WAD
		}
		return FeeResult{
			PricePre:         WAD,
			PriceAfterMgmt:   WAD,
			PriceAfter:       WAD,
			NewHighWaterMark: hwm,
		}, nil
	}

	pricePre, err := WadDiv(in.NavNorm, in.Supply)
	if err != nil {
		return FeeResult{}, fmt.Errorf("pre-fee price: %w", err)
	}
	if pricePre == 0 {
		return FeeResult{}, ErrZeroPrice
	}

	res := FeeResult{PricePre: pricePre}

	// Management fee: haircut the price by rate = annualRate * elapsed/year,
	// then mint supply * rate / (1 - rate) shares so the operator's stake
	// equals the value removed from holders.
	priceAfterMgmt := pricePre
	supplyAfterMgmt := in.Supply
	if in.ElapsedSeconds > 0 && in.MgmtFeeWad > 0 {
		rate, err := MulDiv(in.MgmtFeeWad, in.ElapsedSeconds, SecondsPerYear)
		if err != nil {
			return FeeResult{}, fmt.Errorf("management rate: %w", err)
		}
		if rate >= WAD {
			// Pathological rate*elapsed product. Cap just under 100% and
			// let the zero-price check reject the transition if needed.
			rate = WAD - 1
		}
		if rate > 0 {
			scale := WAD - rate
			priceAfterMgmt, err = WadMul(pricePre, scale)
			if err != nil {
				return FeeResult{}, fmt.Errorf("management haircut: %w", err)
			}
			if priceAfterMgmt == 0 {
				return FeeResult{}, ErrZeroPrice
			}
			res.MgmtShares, err = MulDiv(in.Supply, rate, scale)
			if err != nil {
				return FeeResult{}, fmt.Errorf("management mint: %w", err)
			}
			supplyAfterMgmt = in.Supply + res.MgmtShares
		}
	}
	res.PriceAfterMgmt = priceAfterMgmt

	// Performance fee: charged per share on the gain above the prior
	// high-water mark, skimmed from the price like the management fee.
	priceAfter := priceAfterMgmt
	if in.PerfFeeWad > 0 && priceAfterMgmt > in.HighWaterMark {
		gain := priceAfterMgmt - in.HighWaterMark
		feePerShare, err := WadMul(gain, in.PerfFeeWad)
		if err != nil {
			return FeeResult{}, fmt.Errorf("performance fee: %w", err)
		}
		if feePerShare >= priceAfterMgmt {
			// Keeps the settlement price strictly positive.
			feePerShare = priceAfterMgmt - 1
			res.PerfClamped = true
		}
		if feePerShare > 0 && !(res.PerfClamped && in.SkipClampedMint) {
			priceAfter = priceAfterMgmt - feePerShare
			res.PerfShares, err = MulDiv(supplyAfterMgmt, feePerShare, priceAfter)
			if err != nil {
				return FeeResult{}, fmt.Errorf("performance mint: %w", err)
			}
		}
	}
	res.PriceAfter = priceAfter

	res.NewHighWaterMark = in.HighWaterMark
	if priceAfter > res.NewHighWaterMark {
		res.NewHighWaterMark = priceAfter
	}
	return res, nil
}
