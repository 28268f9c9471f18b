package webhook

import (
	"time"
)

// Event is the durable record of a gateway notification. The unique index on
// (provider, external_event_id) is what makes redeliveries harmless.
type Event struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"uniqueIndex:idx_provider_event"`
	ExternalEventID string     `json:"externalEventId" gorm:"uniqueIndex:idx_provider_event"`
	Type            string     `json:"type" gorm:"index"`
	Payload         string     `json:"payload" gorm:"type:jsonb"`
	ReceivedAt      time.Time  `json:"receivedAt"`
	ProcessedAt     *time.Time `json:"processedAt"`
}
