package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	"gorm.io/datatypes"
)

// PaymentStatus is the stored payment state of an invoice. Overdue is a
// derived view computed by the access-block evaluator and kept here only
// for API compatibility; it is never written to the database.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusOverdue PaymentStatus = "overdue"
)

// PaymentMethod is the instrument used to settle an invoice.
type PaymentMethod string

const (
	PaymentMethodPix    PaymentMethod = "pix"
	PaymentMethodBoleto PaymentMethod = "boleto"
)

// Detail records one fee's contribution to an invoice total.
type Detail struct {
	FeeID   snowflake.ID `json:"fee_id"`
	OrderID string       `json:"order_id"`
	Value   int64        `json:"value"`
}

// PaymentData carries the gateway's payment instrument fields.
type PaymentData struct {
	QRCode       string `json:"qr_code,omitempty"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

// Invoice aggregates one billing cycle's fees for a partner. Amounts in
// centavos. Partner name/email/document are denormalized at creation time
// and never re-derived.
//
// TotalAmount == sum(Details values) - AppliedCreditsAmount always holds.
type Invoice struct {
	ID                   snowflake.ID                                 `gorm:"primaryKey" json:"id"`
	PartnerID            snowflake.ID                                 `gorm:"not null;index" json:"partner_id"`
	ReferenceDate        time.Time                                    `gorm:"not null" json:"reference_date"`
	DueDate              time.Time                                    `gorm:"not null;index" json:"due_date"`
	TotalAmount          int64                                        `gorm:"not null" json:"total_amount"`
	OriginalAmount       int64                                        `gorm:"not null" json:"original_amount"`
	AppliedCreditsAmount int64                                        `gorm:"not null;default:0" json:"applied_credits_amount"`
	AppliedCredits       datatypes.JSONSlice[creditdomain.AppliedCredit] `gorm:"type:jsonb" json:"applied_credits"`
	Details              datatypes.JSONSlice[Detail]                  `gorm:"type:jsonb" json:"details"`
	PartnerName          string                                       `gorm:"type:text;not null" json:"partner_name"`
	PartnerEmail         string                                       `gorm:"type:text;not null" json:"partner_email"`
	PartnerDocument      string                                       `gorm:"type:text" json:"partner_document"`
	PaymentStatus        PaymentStatus                                `gorm:"type:text;not null;default:'pending';index" json:"payment_status"`
	PaymentID            string                                       `gorm:"type:text;index" json:"payment_id,omitempty"`
	PaymentMethod        PaymentMethod                                `gorm:"type:text" json:"payment_method,omitempty"`
	PaymentData          datatypes.JSONType[PaymentData]              `gorm:"type:jsonb" json:"payment_data"`
	PaidAt               *time.Time                                   `json:"paid_at,omitempty"`
	CreatedAt            time.Time                                    `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt            time.Time                                    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
