package sagent

import (
	"sync"
	"time"

	"webkvm/config"
)

// BudgetController is the three-tier performance state machine. The
// session production loop feeds it encode durations; the control path
// feeds it client drop rates and quality caps.
type BudgetController struct {
	mu sync.Mutex

	budgets      [3]time.Duration // indexed by Tier
	cooldown     time.Duration
	comfortRatio float64
	dropDown     float64
	dropUp       float64

	tier        Tier
	floor       Tier
	cap         Tier
	dropRate    float64
	lastChange  time.Time
	comfortFrom time.Time
	transitions int
}

func NewBudgetController(cfg config.TierConfig, initial Tier) *BudgetController {
	return &BudgetController{
		budgets: [3]time.Duration{
			TIER_EMERGENCY: cfg.EmergencyBudget,
			TIER_STANDARD:  cfg.StandardBudget,
			TIER_ULTRA:     cfg.UltraBudget,
		},
		cooldown:     cfg.Cooldown,
		comfortRatio: cfg.ComfortRatio,
		dropDown:     cfg.DropRateDowngrade,
		dropUp:       cfg.DropRateUpgrade,
		tier:         initial,
		floor:        TIER_EMERGENCY,
		cap:          TIER_ULTRA,
	}
}

func (b *BudgetController) Tier() Tier {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tier
}

// Budget is the encode time allowed at the current tier.
func (b *BudgetController) Budget() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.budgets[b.tier]
}

func (b *BudgetController) Transitions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitions
}

// ReportDropRate records the drop rate last measured by the client.
func (b *BudgetController) ReportDropRate(rate float64) {
	b.mu.Lock()
	b.dropRate = rate
	b.mu.Unlock()
}

// SetCap limits the tier from above. The controller moves down to the cap
// on following observations, one tier per cool-down.
func (b *BudgetController) SetCap(t Tier) {
	b.SetRange(TIER_EMERGENCY, t)
}

// SetRange keeps the tier within [floor, cap]. floor == cap pins it.
func (b *BudgetController) SetRange(floor, ceil Tier) {
	b.mu.Lock()
	b.floor, b.cap = min(floor, ceil), ceil
	b.mu.Unlock()
}

// CapForQuality maps a client quality percentage to a tier cap.
func CapForQuality(quality int) Tier {
	switch {
	case quality >= 80:
		return TIER_ULTRA
	case quality >= 40:
		return TIER_STANDARD
	}
	return TIER_EMERGENCY
}

// Observe records one encode duration measured at now and returns the
// resulting tier and whether it changed. At most one transition happens
// per cool-down interval.
func (b *BudgetController) Observe(d time.Duration, now time.Time) (Tier, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	settled := b.lastChange.IsZero() || now.Sub(b.lastChange) >= b.cooldown

	if b.tier < b.floor {
		if settled {
			b.move(b.tier+1, now)
			return b.tier, true
		}
		return b.tier, false
	}

	over := d > b.budgets[b.tier] || b.dropRate > b.dropDown || b.tier > b.cap
	if over {
		b.comfortFrom = time.Time{}
		if b.tier > b.floor && settled {
			b.move(b.tier-1, now)
			return b.tier, true
		}
		return b.tier, false
	}

	if b.tier >= b.cap || !b.comfortable(d) {
		b.comfortFrom = time.Time{}
		return b.tier, false
	}
	if b.comfortFrom.IsZero() {
		b.comfortFrom = now
		return b.tier, false
	}
	if now.Sub(b.comfortFrom) >= b.cooldown && settled {
		b.move(b.tier+1, now)
		return b.tier, true
	}
	return b.tier, false
}

func (b *BudgetController) comfortable(d time.Duration) bool {
	next := b.budgets[b.tier+1]
	return float64(d) <= b.comfortRatio*float64(next) && b.dropRate <= b.dropUp
}

func (b *BudgetController) move(to Tier, now time.Time) {
	b.tier = to
	b.lastChange = now
	b.comfortFrom = time.Time{}
	b.transitions++
}
