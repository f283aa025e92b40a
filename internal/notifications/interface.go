package notifications

import (
	"context"

	"github.com/brandlens/visibility-bot/internal/models"
)

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendReport(ctx context.Context, report *models.Report) error
	SendAlert(ctx context.Context, alert *models.Alert) error
}

// Invalidator tells downstream readers that a scope's derived data changed
type Invalidator interface {
	Invalidate(ctx context.Context, scope models.Scope) error
}
