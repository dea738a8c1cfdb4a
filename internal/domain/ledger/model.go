package ledger

import "time"

type Kind string

const (
	KindOrganization Kind = "organization"
	KindPersonal     Kind = "personal"
)

// Scope — владелец баланса. Ровно один на операцию:
// организация, если актор в ней состоит, иначе личный кабинет.
type Scope struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func Organization(id int64) Scope { return Scope{Kind: KindOrganization, ID: id} }
func Personal(userID int64) Scope { return Scope{Kind: KindPersonal, ID: userID} }

func (s Scope) IsOrganization() bool { return s.Kind == KindOrganization }

type Ledger struct {
	Scope        Scope
	Tier         string
	CreditsTotal int64
	CreditsUsed  int64
	ResetAt      time.Time
	Active       bool // всегда true для личных кабинетов
	UpdatedAt    time.Time
}

func (l Ledger) Available() int64 { return l.CreditsTotal - l.CreditsUsed }

// Due — кандидат на сброс периода.
type Due struct {
	Scope Scope
	Tier  string
}
