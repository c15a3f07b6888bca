package access

import (
	"time"

	"promptforge/internal/domain/accounts"
)

type Policy struct {
	State        AccessState `json:"state"`
	Capabilities []string    `json:"capabilities"`
	RenewsAt     *time.Time  `json:"renews_at,omitempty"`
}

func ComputePolicy(now time.Time, a accounts.Account) Policy {
	state := ComputeEffectiveAccessState(now, a)

	p := Policy{
		State:        state,
		Capabilities: CapabilitiesFor(state),
	}
	if state == AccessFull && a.Status == accounts.StatusActive {
		p.RenewsAt = a.PeriodEnd
	}
	return p
}
