package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	Committed         int64              `json:"committed"`
	Rejected          int64              `json:"rejected"`
	Failed            int64              `json:"failed"`
	RejectionsByKind  map[string]int64   `json:"rejectionsByKind"`
	NumberCollisions  int64              `json:"accountNumberCollisions"`
	OwnerCacheHitRate float64            `json:"ownerCacheHitRate"`
	AmountMovedByKind map[string]float64 `json:"amountMovedByKind"`
	Period            string             `json:"period"`
}
