package math

import (
	"errors"
	"testing"
)

func TestComputeFeesEmptyPool(t *testing.T) {
	res, err := ComputeFees(FeeInput{
		NavNorm:        0,
		Supply:         0,
		HighWaterMark:  0,
		MgmtFeeWad:     WAD / 50, // 2%
		PerfFeeWad:     WAD / 5,  // 20%
		ElapsedSeconds: 86400,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if res.PriceAfter != WAD {
		t.Errorf("expected price reset to 1.0, got %d", res.PriceAfter)
	}
	if res.MgmtShares != 0 || res.PerfShares != 0 {
		t.Errorf("expected no fee shares on empty pool, got %d/%d", res.MgmtShares, res.PerfShares)
	}
	if res.NewHighWaterMark != WAD {
		t.Errorf("expected high-water mark 1.0, got %d", res.NewHighWaterMark)
	}
}

func TestComputeFeesEmptyPoolKeepsHigherMark(t *testing.T) {
	res, err := ComputeFees(FeeInput{Supply: 0, HighWaterMark: 3 * WAD})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if res.NewHighWaterMark != 3*WAD {
		t.Errorf("high-water mark regressed: %d", res.NewHighWaterMark)
	}
}

func TestComputeFeesZeroPriceRejected(t *testing.T) {
	_, err := ComputeFees(FeeInput{NavNorm: 0, Supply: 1_000_000, HighWaterMark: WAD})
	if !errors.Is(err, ErrZeroPrice) {
		t.Errorf("expected ErrZeroPrice, got %v", err)
	}
}

func TestComputeFeesNegativeNavRejected(t *testing.T) {
	_, err := ComputeFees(FeeInput{NavNorm: -1, Supply: 1})
	if !errors.Is(err, ErrNegativeNav) {
		t.Errorf("expected ErrNegativeNav, got %v", err)
	}
}

func TestComputeFeesManagementOnly(t *testing.T) {
	// 2% annual over half a year = 1% haircut. Price 2.0 -> 1.98.
	res, err := ComputeFees(FeeInput{
		NavNorm:        2_000_000,
		Supply:         1_000_000,
		HighWaterMark:  2 * WAD, // above the post-fee price, perf fee silent
		MgmtFeeWad:     WAD / 50,
		ElapsedSeconds: SecondsPerYear / 2,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if res.PricePre != 2*WAD {
		t.Errorf("pre-fee price: expected %d, got %d", 2*WAD, res.PricePre)
	}
	if want := WAD / 100 * 198; res.PriceAfter != want {
		t.Errorf("post-fee price: expected %d, got %d", want, res.PriceAfter)
	}
	// supply * rate / (1 - rate) = 1_000_000 * 0.01 / 0.99
	if res.MgmtShares != 10101 {
		t.Errorf("management shares: expected 10101, got %d", res.MgmtShares)
	}
	if res.PerfShares != 0 {
		t.Errorf("expected no performance shares below the mark, got %d", res.PerfShares)
	}
}

func TestComputeFeesManagementIsDilutionNeutral(t *testing.T) {
	supply := int64(1_000_000)
	res, err := ComputeFees(FeeInput{
		NavNorm:        2_000_000,
		Supply:         supply,
		HighWaterMark:  2 * WAD,
		MgmtFeeWad:     WAD / 50,
		ElapsedSeconds: SecondsPerYear / 2,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	// Value of minted shares at the new price must equal what holders lost.
	lost, err := WadMul(supply, res.PricePre-res.PriceAfter)
	if err != nil {
		t.Fatalf("WadMul failed: %v", err)
	}
	minted, err := WadMul(res.MgmtShares, res.PriceAfter)
	if err != nil {
		t.Fatalf("WadMul failed: %v", err)
	}
	diff := lost - minted
	if diff < 0 {
		diff = -diff
	}
	// Floor division may leave up to one price-unit of dust.
	if diff > res.PriceAfter {
		t.Errorf("dilution drift too large: lost %d, minted value %d", lost, minted)
	}
}

func TestComputeFeesPerformanceAboveMark(t *testing.T) {
	// Half-year 2% management on price 2.0 -> 1.98, then 20% of the gain
	// above the 1.0 mark: fee/share 0.196, price 1.784.
	res, err := ComputeFees(FeeInput{
		NavNorm:        2_000_000,
		Supply:         1_000_000,
		HighWaterMark:  WAD,
		MgmtFeeWad:     WAD / 50,
		PerfFeeWad:     WAD / 5,
		ElapsedSeconds: SecondsPerYear / 2,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if want := WAD / 1000 * 1784; res.PriceAfter != want {
		t.Errorf("post-fee price: expected %d, got %d", want, res.PriceAfter)
	}
	if res.PerfShares != 110_975 {
		t.Errorf("performance shares: expected 110975, got %d", res.PerfShares)
	}
	if res.NewHighWaterMark != res.PriceAfter {
		t.Errorf("high-water mark should move to %d, got %d", res.PriceAfter, res.NewHighWaterMark)
	}
}

func TestComputeFeesPerformanceGatedByPriorMark(t *testing.T) {
	// Price recovers to 1.5 but the mark is 2.0: no performance fee and
	// the mark stays put.
	res, err := ComputeFees(FeeInput{
		NavNorm:       1_500_000,
		Supply:        1_000_000,
		HighWaterMark: 2 * WAD,
		PerfFeeWad:    WAD / 5,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if res.PerfShares != 0 {
		t.Errorf("expected no performance shares, got %d", res.PerfShares)
	}
	if res.NewHighWaterMark != 2*WAD {
		t.Errorf("high-water mark changed: %d", res.NewHighWaterMark)
	}
	if res.PriceAfter != WAD/2*3 {
		t.Errorf("price: expected %d, got %d", WAD/2*3, res.PriceAfter)
	}
}

func TestComputeFeesElapsedZeroSkipsManagement(t *testing.T) {
	res, err := ComputeFees(FeeInput{
		NavNorm:        2_000_000,
		Supply:         1_000_000,
		HighWaterMark:  2 * WAD,
		MgmtFeeWad:     WAD / 50,
		ElapsedSeconds: 0,
	})
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if res.MgmtShares != 0 || res.PriceAfter != 2*WAD {
		t.Errorf("expected untouched price, got shares=%d price=%d", res.MgmtShares, res.PriceAfter)
	}
}

func TestComputeFeesNegativeRateRejected(t *testing.T) {
	for _, in := range []FeeInput{
		{NavNorm: 1, Supply: 1, MgmtFeeWad: -1},
		{NavNorm: 1, Supply: 1, PerfFeeWad: -1},
	} {
		if _, err := ComputeFees(in); !errors.Is(err, ErrNegativeRate) {
			t.Errorf("input %+v: expected ErrNegativeRate, got %v", in, err)
		}
	}
}

func TestComputeFeesSkipClampedMint(t *testing.T) {
	// A >100% performance rate on a near-total gain drives fee-per-share
	// past the price; the clamp pins the price at one wei.
	in := FeeInput{
		NavNorm:       1,
		Supply:        1,
		HighWaterMark: 1, // one wei above zero
		PerfFeeWad:    2 * WAD,
	}
	withMint, err := ComputeFees(in)
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if !withMint.PerfClamped {
		t.Error("expected clamp flag")
	}
	if withMint.PerfShares == 0 {
		t.Error("expected a performance mint in the default policy")
	}
	if withMint.PriceAfter != 1 {
		t.Errorf("clamp should leave price at one wei, got %d", withMint.PriceAfter)
	}

	in.SkipClampedMint = true
	skipped, err := ComputeFees(in)
	if err != nil {
		t.Fatalf("ComputeFees failed: %v", err)
	}
	if !skipped.PerfClamped {
		t.Error("expected clamp flag")
	}
	if skipped.PerfShares != 0 {
		t.Errorf("expected no mint under skip policy, got %d", skipped.PerfShares)
	}
	if skipped.PriceAfter != skipped.PriceAfterMgmt {
		t.Errorf("skip policy must leave the price untouched, got %d", skipped.PriceAfter)
	}
}
