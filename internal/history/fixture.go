package history

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is a YAML-described event scenario, used to seed demo sessions
// and drive replay tests without a live agent.
type Fixture struct {
	SessionID string        `yaml:"session_id"`
	Turns     []FixtureTurn `yaml:"turns"`
}

// FixtureTurn groups the raw wire records of one turn.
type FixtureTurn struct {
	TurnID string                   `yaml:"turn_id"`
	Events []map[string]interface{} `yaml:"events"`
}

// LoadFixture parses a scenario file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.SessionID == "" {
		return nil, fmt.Errorf("fixture %s: missing session_id", path)
	}
	return &f, nil
}

// Seed appends every fixture event to the store in declaration order.
func (f *Fixture) Seed(ctx context.Context, store Store) error {
	for _, turn := range f.Turns {
		for _, ev := range turn.Events {
			if _, err := store.Append(ctx, f.SessionID, turn.TurnID, ev); err != nil {
				return fmt.Errorf("seed fixture event: %w", err)
			}
		}
	}
	return nil
}
