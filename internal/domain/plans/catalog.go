package plans

import "time"

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ResetPeriod — длина расчётного периода, одна для всех тарифов.
const ResetPeriod = 30 * 24 * time.Hour

type Plan struct {
	Tier                   Tier
	MaxUsers               int
	MaxOperationsPerPeriod int
	CreditsPerPeriod       int64
}

// Catalog — статический справочник тарифов. Неизменяемый: тарифы меняются
// только релизом.
var Catalog = map[Tier]Plan{
	TierFree:       {Tier: TierFree, MaxUsers: 3, MaxOperationsPerPeriod: 50, CreditsPerPeriod: 100},
	TierPro:        {Tier: TierPro, MaxUsers: 10, MaxOperationsPerPeriod: 500, CreditsPerPeriod: 1500},
	TierEnterprise: {Tier: TierEnterprise, MaxUsers: 50, MaxOperationsPerPeriod: 5000, CreditsPerPeriod: 10000},
}

func Get(t Tier) (Plan, bool) {
	p, ok := Catalog[t]
	return p, ok
}

// Default — тариф по умолчанию для новых скоупов.
func Default() Plan { return Catalog[TierFree] }
