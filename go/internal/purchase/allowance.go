package purchase

import (
	"math/big"
)

// NeedsApproval is the pure allowance decision: true when the spender may
// move less than the purchase needs. Callers must pass a freshly read
// allowance; external approvals or spends can change it between attempts.
func NeedsApproval(currentAllowance, amountNeeded *big.Int) bool {
	return currentAllowance.Cmp(amountNeeded) < 0
}

// AmountNeeded computes quantity x ticket price, scaled to the token's
// decimal precision. All token math is exact big-integer arithmetic.
func AmountNeeded(quantity int64, ticketPrice *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	needed := new(big.Int).Mul(big.NewInt(quantity), ticketPrice)
	return needed.Mul(needed, scale)
}
