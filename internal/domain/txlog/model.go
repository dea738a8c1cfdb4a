package txlog

import (
	"time"

	"github.com/DanielIribarren/AI-RFX-Backend-sub000/internal/domain/ledger"
)

type Type string

const (
	TypeConsume     Type = "consume"
	TypeReset       Type = "reset"
	TypePlanUpgrade Type = "plan_upgrade"
)

// Record — запись аудита. Только добавление, никогда не изменяется.
type Record struct {
	ID          int64          `json:"id"`
	Scope       ledger.Scope   `json:"scope"`
	ActorID     int64          `json:"actor_id,omitempty"` // 0 для системных записей (reset)
	Amount      int64          `json:"amount"`
	Type        Type           `json:"type"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
