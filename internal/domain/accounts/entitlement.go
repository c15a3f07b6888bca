package accounts

import (
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

const (
	MigrationPending  = "pending"
	MigrationMigrated = "migrated"
)

var (
	ErrAccountNotFound     = errors.New("accounts: account not found")
	ErrCustomerRefConflict = errors.New("accounts: customer reference already assigned")
)

// Entitlement is the subscription-derived part of an account.
type Entitlement struct {
	Tier             string
	Status           string
	MonthlyAllotment int64
	SubscriptionID   string
	PeriodStart      time.Time
	PeriodEnd        time.Time
}

func (a Account) Entitlement() Entitlement {
	e := Entitlement{
		Tier:             a.Tier,
		Status:           a.Status,
		MonthlyAllotment: a.MonthlyAllotment,
	}
	if a.SubscriptionID != nil {
		e.SubscriptionID = *a.SubscriptionID
	}
	if a.PeriodStart != nil {
		e.PeriodStart = *a.PeriodStart
	}
	if a.PeriodEnd != nil {
		e.PeriodEnd = *a.PeriodEnd
	}
	return e
}
