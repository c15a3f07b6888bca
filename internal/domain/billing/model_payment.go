package billing

import "time"

// Payment is the purchase-history record for one completed checkout.
type Payment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	AccountID            uint      `gorm:"not null;index:idx_payments_account_id" json:"account_id"`
	StripeSessionID      string    `gorm:"uniqueIndex" json:"stripe_session_id"`
	StripeEventID        string    `gorm:"column:stripe_event_id" json:"-"`
	StripeSubscriptionID *string   `gorm:"column:stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	PriceID              string    `json:"price_id"`
	Mode                 string    `json:"mode"`
	Tokens               int64     `json:"tokens"`
	AmountCents          int64     `json:"amount_cents"`
	Currency             string    `json:"currency"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"created_at"`
}
