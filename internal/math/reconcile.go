package math

import "fmt"

// Reconcile computes the signed asset delta the operator owes the pool
// after an epoch settles at priceAfter. Pending withdrawal shares are
// valued at the settlement price (floored to native precision), stacked on
// top of any reserve already set aside for earlier epochs, and compared to
// the assets actually held:
//
//	delta = value(pendingWithdrawShares) + reserve - poolBalance
//
// Positive: the operator must contribute. Negative: the operator may take
// the surplus. Pure, so it backs both the transition and the read-only
// preview.
func Reconcile(pendingWithdrawShares, priceAfter, poolBalance, reserve int64, scaler Scaler) (int64, error) {
	owedNorm, err := WadMul(pendingWithdrawShares, priceAfter)
	if err != nil {
		return 0, fmt.Errorf("withdraw liability: %w", err)
	}
	owed := scaler.Denormalize(owedNorm)
	return owed + reserve - poolBalance, nil
}
