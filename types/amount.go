package types

// MaxSafeAmount is the largest token amount a single row may carry.
// It matches the largest integer that survives a round trip through an
// IEEE-754 double, so amounts stay exact in JSON consumers.
const MaxSafeAmount int64 = 1<<53 - 1

// ValidAmount reports whether a is a positive amount within MaxSafeAmount.
func ValidAmount(a int64) bool {
	return a > 0 && a <= MaxSafeAmount
}
