package httpapi

import (
	"github.com/toseekandfind/multi-agent-sandbox/internal/webhooks"
)

// ComposeNotifier fans one lifecycle event out to both the webhook
// manager and the live WebSocket hub, so dispatch.Engine and
// conductor.Engine each take a single Notifier without knowing two
// separate consumers exist.
func ComposeNotifier(webhookMgr *webhooks.Manager, hub *Hub) func(tenantID string, event webhooks.EventType, data map[string]any) {
	return func(tenantID string, event webhooks.EventType, data map[string]any) {
		if webhookMgr != nil {
			webhookMgr.Emit(tenantID, event, data)
		}
		if hub != nil {
			hub.Broadcast(tenantID, event, data)
		}
	}
}
