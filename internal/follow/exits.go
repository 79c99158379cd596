package follow

import (
	"agent-follower/internal/models"
)

// checkExitConditions appends an EXIT for every open source position whose
// exit plan has triggered, unless the symbol is already being exited. An
// ENTER planned for the same symbol in this pass is dropped.
func (e *Engine) checkExitConditions(p *pass, plans []models.FollowPlan) []models.FollowPlan {
	exiting := make(map[string]bool, len(plans))
	for _, plan := range plans {
		if plan.Action == models.PlanExit {
			exiting[plan.Symbol] = true
		}
	}

	var exits []models.FollowPlan
	triggered := make(map[string]bool)
	for _, pos := range p.current {
		if !pos.IsOpen() || exiting[pos.Symbol] || p.profitClosed[pos.Symbol] {
			continue
		}
		if !e.deps.Positions.ShouldExitPosition(pos) {
			continue
		}
		exits = append(exits, models.FollowPlan{
			Action:     models.PlanExit,
			Symbol:     pos.Symbol,
			Side:       pos.Side().Opposite(),
			Quantity:   pos.AbsQuantity(),
			Leverage:   pos.Leverage,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  pos.CurrentPrice,
			EntryOID:   pos.EntryOID,
			Reason:     e.deps.Positions.GetExitReason(pos),

			SourceQuantity: pos.AbsQuantity(),
		})
		exiting[pos.Symbol] = true
		triggered[pos.Symbol] = true
	}
	if len(exits) == 0 {
		return plans
	}

	out := make([]models.FollowPlan, 0, len(plans)+len(exits))
	for _, plan := range plans {
		if plan.Action == models.PlanEnter && triggered[plan.Symbol] {
			p.logger.Info().
				Str("symbol", plan.Symbol).
				Msg("Dropping entry, exit condition already triggered")
			continue
		}
		out = append(out, plan)
	}
	return append(out, exits...)
}
