package trading

import (
	"fmt"

	"agent-follower/internal/models"
)

// exitTrigger evaluates a position's exit plan. Longs stop out at or below
// the stop and take profit at or above the target; shorts mirror that.
func exitTrigger(p models.Position) string {
	if !p.IsOpen() || p.ExitPlan == nil || p.CurrentPrice <= 0 {
		return ""
	}
	price := p.CurrentPrice
	stop := p.ExitPlan.StopLoss
	target := p.ExitPlan.ProfitTarget
	long := p.Quantity > 0

	switch {
	case stop > 0 && long && price <= stop:
		return fmt.Sprintf("stop loss hit: price %.4f <= stop %.4f", price, stop)
	case stop > 0 && !long && price >= stop:
		return fmt.Sprintf("stop loss hit: price %.4f >= stop %.4f", price, stop)
	case target > 0 && long && price >= target:
		return fmt.Sprintf("profit target hit: price %.4f >= target %.4f", price, target)
	case target > 0 && !long && price <= target:
		return fmt.Sprintf("profit target hit: price %.4f <= target %.4f", price, target)
	}
	return ""
}
