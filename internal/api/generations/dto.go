package generations

import (
	"net/http"

	"promptforge/internal/domain/generation"
)

type outcomeDTO struct {
	Index     int               `json:"index"`
	Status    generation.Status `json:"status"`
	Text      string            `json:"text,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Reason    string            `json:"reason,omitempty"`
	Remaining *int64            `json:"remaining,omitempty"`
}

func toOutcomeDTO(o generation.Outcome) outcomeDTO {
	return outcomeDTO{
		Index:     o.Index,
		Status:    o.Status,
		Text:      o.Text,
		ElapsedMS: o.Elapsed.Milliseconds(),
		Reason:    o.Reason,
		Remaining: o.Remaining,
	}
}

func toOutcomeDTOs(outs []generation.Outcome) []outcomeDTO {
	dtos := make([]outcomeDTO, 0, len(outs))
	for _, o := range outs {
		dtos = append(dtos, toOutcomeDTO(o))
	}
	return dtos
}

// statusFor keeps "sign in" and "buy more" distinguishable: 401 when every
// slot needs auth, 402 when every slot ran out of credits.
func statusFor(outs []generation.Outcome) int {
	if len(outs) == 0 {
		return http.StatusOK
	}
	allAuth, allCredits := true, true
	for _, o := range outs {
		allAuth = allAuth && o.Status == generation.StatusNeedsAuth
		allCredits = allCredits && o.Status == generation.StatusNeedsCredits
	}
	switch {
	case allAuth:
		return http.StatusUnauthorized
	case allCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusOK
	}
}
