package domain

import "time"

// HealthSnapshot - вычисленная сводка здоровья пары (venue, integration_type)
// Полностью производные данные, перезаписываются целиком (upsert)
type HealthSnapshot struct {
	VenueID          string          `db:"venue_id" json:"venue_id"`
	IntegrationType  IntegrationType `db:"integration_type" json:"integration_type"`
	State            HealthState     `db:"state" json:"state"`
	SuccessRate      float64         `db:"success_rate" json:"success_rate"`
	AvgDurationMS    float64         `db:"avg_duration_ms" json:"avg_duration_ms"`
	Attempted24h     int             `db:"attempted_24h" json:"attempted_24h"`
	Succeeded24h     int             `db:"succeeded_24h" json:"succeeded_24h"`
	Failed24h        int             `db:"failed_24h" json:"failed_24h"`
	APICalls24h      int             `db:"api_calls_24h" json:"api_calls_24h"`
	QueueDepth       int             `db:"queue_depth" json:"queue_depth"`
	OldestPendingSec int             `db:"oldest_pending_sec" json:"oldest_pending_sec"`
	ComputedAt       time.Time       `db:"computed_at" json:"computed_at"`
}
