package generation

import (
	"sort"
	"time"
)

// Request is one user submission: a prompt and its ordered slots.
type Request struct {
	ID          string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AccountID   uint         `gorm:"not null;index:idx_generation_requests_account_id" json:"account_id"`
	Prompt      string       `gorm:"type:text;not null" json:"prompt"`
	Slots       []SlotConfig `gorm:"foreignKey:RequestID;references:ID" json:"slots"`
	Generations []Generation `gorm:"foreignKey:RequestID;references:ID" json:"generations"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Request) TableName() string { return "generation_requests" }

// SlotConfig describes one slot. Index is stable for the lifetime of the
// request; removing a slot marks it dropped instead of shifting indices.
type SlotConfig struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	RequestID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_slot_configs_request_index" json:"-"`
	Index     int    `gorm:"column:slot_index;not null;uniqueIndex:idx_slot_configs_request_index" json:"index"`
	Style     string `gorm:"type:varchar(64)" json:"style"`
	Model     string `gorm:"type:varchar(64)" json:"model"`
	Variation int    `gorm:"not null;default:0" json:"variation"`
	Dropped   bool   `gorm:"not null;default:false" json:"dropped"`
}

func (SlotConfig) TableName() string { return "slot_configs" }

// Generation is the persisted result of a slot, created lazily.
type Generation struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RequestID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_generations_request_index" json:"-"`
	SlotIndex int       `gorm:"not null;uniqueIndex:idx_generations_request_index" json:"index"`
	Text      string    `gorm:"type:text" json:"text,omitempty"`
	ElapsedMS int64     `gorm:"not null;default:0" json:"elapsed_ms"`
	State     string    `gorm:"type:varchar(16);not null" json:"state"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Generation) TableName() string { return "generations" }

const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StateDeleted = "deleted"
)

// LiveSlots returns non-dropped slots in index order.
func (r Request) LiveSlots() []SlotConfig {
	out := make([]SlotConfig, 0, len(r.Slots))
	for _, s := range r.Slots {
		if !s.Dropped {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (r Request) Slot(index int) (SlotConfig, bool) {
	for _, s := range r.Slots {
		if s.Index == index {
			return s, true
		}
	}
	return SlotConfig{}, false
}

// NextIndex is one past the highest index ever used, dropped slots included.
func (r Request) NextIndex() int {
	next := 0
	for _, s := range r.Slots {
		if s.Index >= next {
			next = s.Index + 1
		}
	}
	return next
}
