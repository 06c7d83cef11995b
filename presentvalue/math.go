package presentvalue

import (
	"fmt"
	"math/big"

	"github.com/defibridge/bridgedata/interaction"
)

// YearSeconds is the length of the year used to annualise yields
const YearSeconds = 365 * 24 * 3600

var (
	// ScalingFactor is the fixed point precision used for ratios
	ScalingFactor = mustBigInt("1000000000000000000") // 1e18
	basisPoints   = big.NewInt(10_000)
	yearSeconds   = big.NewInt(YearSeconds)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Interpolate returns the linearly accrued value of a position worth
// entryValue at entryTimestamp and terminalValue at expiry, read at now.
// Elapsed time is clamped to [0, expiry-entryTimestamp].
func Interpolate(entryValue, terminalValue *big.Int, entryTimestamp, expiry, now uint64) (*big.Int, error) {
	if entryValue == nil || terminalValue == nil {
		return nil, fmt.Errorf("entry and terminal values are required")
	}
	if expiry <= entryTimestamp {
		return nil, fmt.Errorf("expiry %d, entry %d: %w", expiry, entryTimestamp, interaction.ErrDivideByZero)
	}
	totalDuration := new(big.Int).SetUint64(expiry - entryTimestamp)
	elapsed := new(big.Int).SetUint64(clampElapsed(entryTimestamp, expiry, now))

	totalInterest := new(big.Int).Sub(terminalValue, entryValue)
	// multiply before dividing, the other order truncates the interest away
	accrued := new(big.Int).Mul(totalInterest, elapsed)
	accrued.Quo(accrued, totalDuration)

	return accrued.Add(accrued, entryValue), nil
}

func clampElapsed(entryTimestamp, expiry, now uint64) uint64 {
	if now <= entryTimestamp {
		return 0
	}
	if now >= expiry {
		return expiry - entryTimestamp
	}
	return now - entryTimestamp
}

// Share returns the part of presentValue owned by a holder of inputValue out
// of totalInputValue
func Share(presentValue, inputValue, totalInputValue *big.Int) (*big.Int, error) {
	if presentValue == nil || inputValue == nil || totalInputValue == nil {
		return nil, fmt.Errorf("present, input and total values are required")
	}
	if totalInputValue.Sign() == 0 {
		return nil, fmt.Errorf("total input value: %w", interaction.ErrDivideByZero)
	}
	share := new(big.Int).Mul(presentValue, inputValue)
	return share.Quo(share, totalInputValue), nil
}

// Yield is an annualised rate of return
type Yield struct {
	// Ratio is the yearly interest over the entry value, scaled by ScalingFactor
	Ratio *big.Int `json:"ratio"`
	// BasisPoints is Ratio expressed in basis points, rounded half up
	BasisPoints *big.Int `json:"basisPoints"`
	// Percentage is BasisPoints formatted with two decimals, eg "12.34"
	Percentage string `json:"percentage"`
}

// AnnualisedYield extrapolates the interest earned between entry and expiry
// to a full year
func AnnualisedYield(entryValue, terminalValue *big.Int, entryTimestamp, expiry uint64) (*Yield, error) {
	if entryValue == nil || terminalValue == nil {
		return nil, fmt.Errorf("entry and terminal values are required")
	}
	if expiry <= entryTimestamp {
		return nil, fmt.Errorf("expiry %d, entry %d: %w", expiry, entryTimestamp, interaction.ErrDivideByZero)
	}
	if entryValue.Sign() == 0 {
		return nil, fmt.Errorf("entry value: %w", interaction.ErrDivideByZero)
	}
	totalDuration := new(big.Int).SetUint64(expiry - entryTimestamp)
	totalInterest := new(big.Int).Sub(terminalValue, entryValue)

	interestPerSecond := new(big.Int).Mul(totalInterest, ScalingFactor)
	interestPerSecond.Quo(interestPerSecond, totalDuration)

	yearlyInterest := new(big.Int).Mul(interestPerSecond, yearSeconds)
	yearlyInterest.Quo(yearlyInterest, ScalingFactor)

	ratio := new(big.Int).Mul(yearlyInterest, ScalingFactor)
	ratio.Quo(ratio, entryValue)

	bps := roundHalfUp(new(big.Int).Mul(ratio, basisPoints), ScalingFactor)
	return &Yield{
		Ratio:       ratio,
		BasisPoints: bps,
		Percentage:  formatBasisPoints(bps),
	}, nil
}

// roundHalfUp divides num by den rounding halves away from zero
func roundHalfUp(num, den *big.Int) *big.Int {
	half := new(big.Int).Rsh(den, 1)
	abs := new(big.Int).Abs(num)
	abs.Add(abs, half)
	abs.Quo(abs, den)
	if num.Sign() < 0 {
		abs.Neg(abs)
	}
	return abs
}

func formatBasisPoints(bps *big.Int) string {
	sign := ""
	abs := new(big.Int).Abs(bps)
	if bps.Sign() < 0 {
		sign = "-"
	}
	whole, frac := new(big.Int).QuoRem(abs, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("%s%s.%02d", sign, whole.String(), frac.Int64())
}
