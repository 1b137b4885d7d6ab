package earnedvalue

import "github.com/shopspring/decimal"

// BuildingProgress is the arithmetic mean of the services' current progress,
// rounded to two decimals. A building without services reports 0.
//
// Callers recompute it from a fresh read of every service instead of
// patching a stored average.
func BuildingProgress(current []float64) float64 {
	if len(current) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, p := range current {
		sum = sum.Add(decimal.NewFromFloat(ClampProgress(p)))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(current)))).Round(2)
	f, _ := mean.Float64()
	return f
}
