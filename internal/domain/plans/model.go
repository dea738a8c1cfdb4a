package plans

import (
	"time"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request — заявка на смену тарифа. Ревью ровно одно, статус терминальный.
type Request struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	OrganizationID *int64     `json:"organization_id,omitempty"` // nil для личного скоупа
	CurrentTier    Tier       `json:"current_tier"`
	RequestedTier  Tier       `json:"requested_tier"`
	Status         Status     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	ReviewerID     *int64     `json:"reviewer_id,omitempty"`
	ReviewerNotes  string     `json:"reviewer_notes,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (r Request) Scope() ledger.Scope {
	if r.OrganizationID != nil {
		return ledger.Organization(*r.OrganizationID)
	}
	return ledger.Personal(r.UserID)
}
