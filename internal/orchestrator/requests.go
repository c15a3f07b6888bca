package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptforge/internal/domain/generation"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func draftRequest(accountID uint, prompt string, specs []SlotSpec) generation.Request {
	req := generation.Request{
		AccountID: accountID,
		Prompt:    strings.TrimSpace(prompt),
		Slots:     make([]generation.SlotConfig, 0, len(specs)),
	}
	for i, spec := range specs {
		req.Slots = append(req.Slots, generation.SlotConfig{
			Index:     i,
			Style:     strings.TrimSpace(spec.Style),
			Model:     strings.TrimSpace(spec.Model),
			Variation: spec.Variation,
		})
	}
	return req
}

func validate(prompt string, specs []SlotSpec) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt is required", generation.ErrInvalidRequest)
	}
	if len(specs) == 0 || len(specs) > MaxSlots {
		return fmt.Errorf("%w: between 1 and %d slots required", generation.ErrInvalidRequest, MaxSlots)
	}
	return nil
}

// Create stores a request with its slots indexed from zero.
func (o *Orchestrator) Create(ctx context.Context, accountID uint, prompt string, specs []SlotSpec) (generation.Request, error) {
	if err := validate(prompt, specs); err != nil {
		return generation.Request{}, err
	}
	req := draftRequest(accountID, prompt, specs)
	req.ID = uuid.NewString()

	if err := o.db.WithContext(ctx).Create(&req).Error; err != nil {
		return generation.Request{}, fmt.Errorf("create generation request: %w", err)
	}
	return req, nil
}

// Load returns a request with its slots and stored results. Requests of other
// accounts are reported as not found.
func (o *Orchestrator) Load(ctx context.Context, accountID uint, requestID string) (generation.Request, error) {
	var req generation.Request
	err := o.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("slot_index") }).
		Preload("Generations", func(db *gorm.DB) *gorm.DB { return db.Order("slot_index") }).
		Where("id = ? AND account_id = ?", requestID, accountID).
		Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return generation.Request{}, generation.ErrRequestNotFound
	}
	if err != nil {
		return generation.Request{}, err
	}
	return req, nil
}

// liveIndices lists the live slot indices of a request regardless of owner.
func (o *Orchestrator) liveIndices(ctx context.Context, requestID string) ([]int, error) {
	var indices []int
	err := o.db.WithContext(ctx).Model(&generation.SlotConfig{}).
		Where("request_id = ? AND dropped = ?", requestID, false).
		Order("slot_index").
		Pluck("slot_index", &indices).Error
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, generation.ErrRequestNotFound
	}
	return indices, nil
}

// AddSlot appends a slot at the next unused index. Indices of dropped slots
// are never reused.
func (o *Orchestrator) AddSlot(ctx context.Context, accountID uint, requestID string, spec SlotSpec) (generation.SlotConfig, error) {
	var slot generation.SlotConfig
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req generation.Request
		err := tx.Preload("Slots").Where("id = ? AND account_id = ?", requestID, accountID).Take(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return generation.ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		if len(req.LiveSlots()) >= MaxSlots {
			return fmt.Errorf("%w: at most %d slots", generation.ErrInvalidRequest, MaxSlots)
		}

		slot = generation.SlotConfig{
			RequestID: req.ID,
			Index:     req.NextIndex(),
			Style:     strings.TrimSpace(spec.Style),
			Model:     strings.TrimSpace(spec.Model),
			Variation: spec.Variation,
		}
		return tx.Create(&slot).Error
	})
	if err != nil {
		return generation.SlotConfig{}, err
	}
	return slot, nil
}

// DropSlot marks a slot dropped and its result deleted. Other slots keep
// their indices.
func (o *Orchestrator) DropSlot(ctx context.Context, accountID uint, requestID string, index int) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&generation.Request{}).Where("id = ? AND account_id = ?", requestID, accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return generation.ErrRequestNotFound
		}

		res := tx.Model(&generation.SlotConfig{}).
			Where("request_id = ? AND slot_index = ? AND dropped = ?", requestID, index, false).
			Update("dropped", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return generation.ErrSlotNotFound
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}, {Name: "slot_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).Create(&generation.Generation{
			RequestID: requestID,
			SlotIndex: index,
			State:     generation.StateDeleted,
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
}

// saveResult upserts the Generation row for a slot that made a call. A failed
// rerun keeps the previous text. A row already marked deleted stays deleted,
// so a call that finishes after its slot was dropped writes nothing.
func (o *Orchestrator) saveResult(ctx context.Context, requestID string, outcome generation.Outcome) error {
	row := generation.Generation{
		RequestID: requestID,
		SlotIndex: outcome.Index,
		ElapsedMS: outcome.Elapsed.Milliseconds(),
		Reason:    outcome.Reason,
		UpdatedAt: time.Now().UTC(),
	}
	columns := []string{"elapsed_ms", "state", "reason", "updated_at"}
	if outcome.Status == generation.StatusCompleted {
		row.State = generation.StateSuccess
		row.Text = outcome.Text
		columns = append(columns, "text")
	} else {
		row.State = generation.StateFailed
	}

	return o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}, {Name: "slot_index"}},
		DoUpdates: clause.AssignmentColumns(columns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: generation.Generation{}.TableName(), Name: "state"}, Value: generation.StateDeleted},
		}},
	}).Create(&row).Error
}
