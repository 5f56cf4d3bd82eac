package policy

import (
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
)

// Merged view of the limits in force for one (tier, endpoint) pair.
type Effective struct {
	Tier              string
	Endpoint          string // normalized pattern, empty when the general tier limit applies
	RequestsPerWindow int
	Window            time.Duration
	DailyQuota        int
	MonthlyQuota      int
	MaxConcurrent     int
	BurstLimit        int
	Cost              int
	Unlimited         bool
}

// Static lookup table from tier (and optionally tier+endpoint) to limit
// parameters. Built once at startup; read-only afterwards.
type Registry struct {
	tiers     map[string]models.TierPolicy
	endpoints map[endpointKey]models.EndpointPolicy
}

type endpointKey struct {
	endpoint string
	tier     string
}

func NewRegistry(tiers []models.TierPolicy, endpoints []models.EndpointPolicy) *Registry {
	r := &Registry{
		tiers:     make(map[string]models.TierPolicy, len(tiers)),
		endpoints: make(map[endpointKey]models.EndpointPolicy, len(endpoints)),
	}

	for _, t := range tiers {
		r.tiers[t.Name] = t
	}

	for _, e := range endpoints {
		if e.Cost <= 0 {
			e.Cost = 1
		}
		key := endpointKey{endpoint: NormalizePath(e.Endpoint), tier: e.Tier}
		r.endpoints[key] = e
	}

	return r
}

// Resolve returns the effective limits for a tier and normalized
// endpoint. An unknown tier resolves to the free tier so a bad tier
// name never grants more than the most restrictive policy. An endpoint
// override replaces the tier's rate fields entirely; quota, concurrency
// and burst parameters always come from the tier.
func (r *Registry) Resolve(tier, normalizedEndpoint string) Effective {
	tp, ok := r.tiers[tier]
	if !ok {
		tier = models.TierFree
		tp = r.tiers[models.TierFree]
	}

	eff := Effective{
		Tier:              tier,
		RequestsPerWindow: tp.RequestsPerWindow,
		Window:            tp.WindowDuration,
		DailyQuota:        tp.DailyQuota,
		MonthlyQuota:      tp.MonthlyQuota,
		MaxConcurrent:     tp.MaxConcurrentRequests,
		BurstLimit:        tp.BurstLimitPerMinute,
		Cost:              1,
		Unlimited:         tier == models.TierUnlimited,
	}

	if ep, ok := r.endpoints[endpointKey{endpoint: normalizedEndpoint, tier: tier}]; ok {
		eff.Endpoint = normalizedEndpoint
		eff.RequestsPerWindow = ep.RequestsPerWindow
		eff.Window = ep.WindowDuration
		eff.Cost = ep.Cost
	}

	return eff
}
