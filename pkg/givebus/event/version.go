package event

import (
	"fmt"
	"sync"
	"time"
)

// MigrateFunc upgrades a payload from one schema version to the next.
// It must return a new payload and leave its input untouched.
type MigrateFunc func(payload map[string]any) (map[string]any, error)

// migration is one registered edge in the version graph.
type migration struct {
	from    string
	to      string
	migrate MigrateFunc
}

// VersionManager upgrades old-shaped events to the version a handler
// expects. Registered migrations form a directed graph per event type;
// Migrate walks the shortest edge path from the event's current version
// to the target.
type VersionManager struct {
	mu sync.RWMutex
	// edges maps event type -> fromVersion -> outgoing migrations.
	edges map[string]map[string][]migration
}

// NewVersionManager creates an empty version manager.
func NewVersionManager() *VersionManager {
	return &VersionManager{edges: make(map[string]map[string][]migration)}
}

// RegisterMigration adds a migration edge for an event type.
func (m *VersionManager) RegisterMigration(eventType, from, to string, fn MigrateFunc) error {
	if eventType == "" || from == "" || to == "" {
		return fmt.Errorf("event type, from and to versions are required")
	}
	if from == to {
		return fmt.Errorf("migration for %s maps version %s to itself", eventType, from)
	}
	if fn == nil {
		return fmt.Errorf("migration function is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.edges[eventType] == nil {
		m.edges[eventType] = make(map[string][]migration)
	}
	m.edges[eventType][from] = append(m.edges[eventType][from], migration{from: from, to: to, migrate: fn})
	return nil
}

// Migrate upgrades an event to the target version, applying each migration
// on the shortest registered path in sequence. The returned event is a new
// envelope stamped with the target version and an originalVersion/migratedAt
// metadata trail; the input event is not modified.
//
// When no path exists the error wraps ErrNoMigrationPath - never a silent
// passthrough.
func (m *VersionManager) Migrate(evt *Event, targetVersion string) (*Event, error) {
	if evt.Version == targetVersion {
		return evt, nil
	}

	path, err := m.findPath(evt.Type, evt.Version, targetVersion)
	if err != nil {
		return nil, err
	}

	migrated := evt.Clone()
	for _, step := range path {
		payload, err := step.migrate(migrated.Payload)
		if err != nil {
			return nil, fmt.Errorf("migrate %s from %s to %s: %w", evt.Type, step.from, step.to, err)
		}
		migrated.Payload = payload
		migrated.Version = step.to
	}

	if migrated.Metadata == nil {
		migrated.Metadata = make(map[string]string, 2)
	}
	migrated.Metadata["originalVersion"] = evt.Version
	migrated.Metadata["migratedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return migrated, nil
}

// CanMigrate reports whether a path exists between two versions of a type.
func (m *VersionManager) CanMigrate(eventType, from, to string) bool {
	if from == to {
		return true
	}
	_, err := m.findPath(eventType, from, to)
	return err == nil
}

// findPath runs breadth-first search over the migration edges, returning
// the shortest migration sequence from one version to another.
func (m *VersionManager) findPath(eventType, from, to string) ([]migration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byFrom, ok := m.edges[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: no migrations registered for %s", ErrNoMigrationPath, eventType)
	}

	type node struct {
		version string
		path    []migration
	}

	visited := map[string]bool{from: true}
	queue := []node{{version: from}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range byFrom[current.version] {
			if visited[edge.to] {
				continue
			}
			path := make([]migration, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, edge)

			if edge.to == to {
				return path, nil
			}
			visited[edge.to] = true
			queue = append(queue, node{version: edge.to, path: path})
		}
	}

	return nil, fmt.Errorf("%w: %s from %s to %s", ErrNoMigrationPath, eventType, from, to)
}
