package platform

import (
	"fmt"

	"github.com/shaiso/Tempest/internal/domain"
)

// Статусы платформы M.
const (
	MStatusPaused = "PAUSED"
	MStatusActive = "ACTIVE"
)

// Статусы платформы G.
const (
	GStatusPaused  = "PAUSED"
	GStatusEnabled = "ENABLED"
)

// ResolveStatus переводит действие цели в статус конкретной платформы:
// pause → PAUSED на обеих; resume → ACTIVE (M) или ENABLED (G).
func ResolveStatus(p domain.Platform, action domain.TargetAction) (string, error) {
	switch {
	case action == domain.ActionPause:
		return MStatusPaused, nil
	case action == domain.ActionResume && p == domain.PlatformM:
		return MStatusActive, nil
	case action == domain.ActionResume && p == domain.PlatformG:
		return GStatusEnabled, nil
	default:
		return "", fmt.Errorf("unknown action %q for platform %q", action, p)
	}
}
