package policy

import "context"

// Well-known policy names consulted by the core.
const (
	PolicyCooldown      = "cooldown"
	PolicySessionWindow = "session_window"
	PolicySignalFilter  = "signal_filter"
	PolicyReasoning     = "reasoning"
	PolicyNotifications = "notifications"
	PolicyRisk          = "risk"
)

// DefaultBackend terminates the chain with compiled-in sensible values
// so a lookup never comes back empty for a well-known policy.
type DefaultBackend struct {
	defaults map[string]map[string]any
}

// NewDefaultBackend creates the terminal backend.
func NewDefaultBackend() *DefaultBackend {
	return &DefaultBackend{
		defaults: map[string]map[string]any{
			PolicyCooldown: {
				"default_ms": int64(0), // no cooldown unless configured
			},
			PolicySessionWindow: {
				"windows": map[string]any{}, // empty = no gating
			},
			PolicySignalFilter: {
				"min_confidence": 0.0,
				"blocked_types":  []string{},
			},
			PolicyReasoning: {
				"mode":       "default",
				"timeout_ms": int64(500),
			},
			PolicyNotifications: {
				"notify_level":        "all",
				"min_warn_confidence": 0.7,
			},
			PolicyRisk: {
				"max_exposure":   1.0,
				"kill_zone_veto": false,
			},
		},
	}
}

// Name implements Backend.
func (b *DefaultBackend) Name() string { return "default" }

// Get implements Backend.
func (b *DefaultBackend) Get(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
	p, ok := b.defaults[name]
	if !ok {
		return nil, nil
	}
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp, nil
}
