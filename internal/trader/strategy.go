package trader

import (
	"fmt"
	"sort"
)

// Strategy is the capability a trading strategy exposes to the scheduler:
// one-time startup work and the periodic scout tick.
type Strategy interface {
	Initialize() error
	Scout() error
}

// Constructor builds a strategy around the shared state machine.
type Constructor func(t *Trader) Strategy

var registry = map[string]Constructor{}

// Register adds a strategy constructor under a name. Called from init
// functions; later registrations under the same name panic to surface the
// programming error immediately.
func Register(name string, c Constructor) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = c
}

// NewStrategy looks up a registered strategy by name. Unknown names are a
// startup configuration error, not a silent fallback.
func NewStrategy(name string, t *Trader) (Strategy, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	return c(t), nil
}

// Names lists registered strategies in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
