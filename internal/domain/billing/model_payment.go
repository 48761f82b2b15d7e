package billing

import "time"

// Payment is one mentor-session checkout. Amounts are in the smallest currency unit.
type Payment struct {
	ID                    uint    `gorm:"primaryKey" json:"id"`
	StripeSessionID       string  `gorm:"column:stripe_session_id;uniqueIndex;not null" json:"stripe_session_id"`
	StripePaymentIntentID *string `gorm:"column:stripe_payment_intent_id;uniqueIndex" json:"stripe_payment_intent_id,omitempty"`

	MentorUserID          string `gorm:"column:mentor_user_id;index" json:"mentor_user_id"`
	MentorEmail           string `gorm:"column:mentor_email" json:"mentor_email"`
	MentorStripeAccountID string `gorm:"column:mentor_stripe_account_id" json:"mentor_stripe_account_id"`
	CustomerEmail         string `gorm:"column:customer_email" json:"customer_email"`
	CustomerName          string `gorm:"column:customer_name" json:"customer_name"`

	Amount       int64  `gorm:"column:amount" json:"amount"`
	Currency     string `gorm:"column:currency;type:varchar(3)" json:"currency"`
	MentorFee    int64  `gorm:"column:mentor_fee" json:"mentor_fee"`
	MenteeFee    int64  `gorm:"column:mentee_fee" json:"mentee_fee"`
	MentorAmount int64  `gorm:"column:mentor_amount" json:"mentor_amount"`

	PlatformStatus     string     `gorm:"column:platform_status;type:varchar(20);not null;default:'PENDING';index" json:"platform_status"`
	TransferID         *string    `gorm:"column:transfer_id" json:"transfer_id,omitempty"`
	TransferStatus     string     `gorm:"column:transfer_status;type:varchar(20);not null;default:'PENDING'" json:"transfer_status"`
	TransferRetryCount int        `gorm:"column:transfer_retry_count;not null;default:0" json:"transfer_retry_count"`
	DisputeRequested   bool       `gorm:"column:dispute_requested;not null;default:false" json:"dispute_requested"`
	DisputePeriodEnds  *time.Time `gorm:"column:dispute_period_ends;index" json:"dispute_period_ends,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
