// Package eventstore is append-only, indexed, size-bounded persistence
// for discrete project events.
//
// Storage is two-tier: each event is written to its own JSON file, and a
// compact summary is prepended (newest first) to a single per-project
// index file. Index writes are atomic (temp file + rename), so the index
// is never observed half-written even across a process crash. When the
// index exceeds its cap, the oldest summaries are dropped and their
// backing files deleted.
package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hanoibanhcuon/automaker/internal/domain"
)

// ErrNotFound is returned when an event id is not present.
var ErrNotFound = errors.New("event not found")

const (
	stateDirName  = ".automaker"
	eventsDirName = "events"
	indexFileName = "index.json"
)

// Config holds the store's tunables. Environment variables override the
// defaults so deployments can raise the cap without a config file.
type Config struct {
	MaxIndexEntries int           `envconfig:"AUTOMAKER_EVENTS_MAX" default:"1000"`
	CacheTTL        time.Duration `envconfig:"AUTOMAKER_EVENTS_CACHE_TTL" default:"2s"`
}

// ConfigFromEnv loads Config with environment overrides applied.
func ConfigFromEnv() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{MaxIndexEntries: 1000, CacheTTL: 2 * time.Second}
	}
	return cfg
}

// Store persists events for any number of projects. The parsed index is
// cached per project with a short TTL; reads within the TTL skip disk I/O
// and every write updates the cache synchronously. The cache is
// per-process: multi-instance deployments rely on the TTL staying short
// relative to acceptable staleness.
type Store struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	cache map[string]*cachedIndex // keyed by project path
}

type cachedIndex struct {
	index    domain.EventIndex
	loadedAt time.Time
}

// New creates an event store.
func New(cfg Config, log zerolog.Logger) *Store {
	if cfg.MaxIndexEntries <= 0 {
		cfg.MaxIndexEntries = 1000
	}
	return &Store{
		cfg:   cfg,
		log:   log,
		cache: make(map[string]*cachedIndex),
	}
}

func eventsDir(projectPath string) string {
	return filepath.Join(projectPath, stateDirName, eventsDirName)
}

func indexPath(projectPath string) string {
	return filepath.Join(eventsDir(projectPath), indexFileName)
}

func eventPath(projectPath, id string) string {
	return filepath.Join(eventsDir(projectPath), id+".json")
}

// Append stores an event, assigning it a generated id and timestamp, and
// prunes the index down to the configured cap.
func (s *Store) Append(projectPath string, event domain.StoredEvent) (domain.StoredEvent, error) {
	event.ID = newEventID()
	event.Timestamp = time.Now().UTC()
	event.ProjectPath = projectPath
	if event.ProjectName == "" {
		event.ProjectName = filepath.Base(projectPath)
	}

	if err := os.MkdirAll(eventsDir(projectPath), 0o755); err != nil {
		return domain.StoredEvent{}, err
	}

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return domain.StoredEvent{}, err
	}
	if err := os.WriteFile(eventPath(projectPath, event.ID), data, 0o644); err != nil {
		return domain.StoredEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.loadIndexLocked(projectPath)
	index.Events = append([]domain.EventSummary{event.Summary()}, index.Events...)

	// Prune the oldest excess entries and their backing files. A failed
	// delete is a disk-space leak, not a correctness bug.
	if len(index.Events) > s.cfg.MaxIndexEntries {
		for _, pruned := range index.Events[s.cfg.MaxIndexEntries:] {
			if err := os.Remove(eventPath(projectPath, pruned.ID)); err != nil && !os.IsNotExist(err) {
				s.log.Warn().Err(err).Str("event", pruned.ID).Msg("failed to delete pruned event file")
			}
		}
		index.Events = index.Events[:s.cfg.MaxIndexEntries]
	}

	if err := s.writeIndexLocked(projectPath, index); err != nil {
		return domain.StoredEvent{}, err
	}
	return event, nil
}

// Filter narrows List results. Offset and Limit paginate after filtering.
type Filter struct {
	Trigger   string
	FeatureID string
	Since     time.Time
	Until     time.Time
	Offset    int
	Limit     int
}

// List returns event summaries, newest first.
func (s *Store) List(projectPath string, filter Filter) []domain.EventSummary {
	s.mu.Lock()
	index := s.loadIndexLocked(projectPath)
	s.mu.Unlock()

	matched := make([]domain.EventSummary, 0, len(index.Events))
	for _, e := range index.Events {
		if filter.Trigger != "" && e.Trigger != filter.Trigger {
			continue
		}
		if filter.FeatureID != "" && e.FeatureID != filter.FeatureID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.EventSummary{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// Get loads a full event object by id.
func (s *Store) Get(projectPath, id string) (*domain.StoredEvent, error) {
	data, err := os.ReadFile(eventPath(projectPath, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var event domain.StoredEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("parsing event %s: %w", id, err)
	}
	return &event, nil
}

// Delete removes an event and its index entry. Returns false when the id
// was not present.
func (s *Store) Delete(projectPath, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.loadIndexLocked(projectPath)
	found := false
	kept := index.Events[:0]
	for _, e := range index.Events {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}
	index.Events = kept

	if err := s.writeIndexLocked(projectPath, index); err != nil {
		return false, err
	}
	if err := os.Remove(eventPath(projectPath, id)); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("event", id).Msg("failed to delete event file")
	}
	return true, nil
}

// Clear removes every stored event for a project and returns how many
// index entries were dropped.
func (s *Store) Clear(projectPath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.loadIndexLocked(projectPath)
	count := len(index.Events)
	for _, e := range index.Events {
		if err := os.Remove(eventPath(projectPath, e.ID)); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("event", e.ID).Msg("failed to delete event file")
		}
	}

	if err := s.writeIndexLocked(projectPath, domain.EventIndex{Events: []domain.EventSummary{}}); err != nil {
		return 0, err
	}
	return count, nil
}

// loadIndexLocked returns the project's index, from cache when fresh. A
// missing or corrupt index file yields an empty index: the index is
// rebuildable state, not a source of truth worth failing over.
func (s *Store) loadIndexLocked(projectPath string) domain.EventIndex {
	if cached, ok := s.cache[projectPath]; ok && time.Since(cached.loadedAt) < s.cfg.CacheTTL {
		return cloneIndex(cached.index)
	}

	var index domain.EventIndex
	data, err := os.ReadFile(indexPath(projectPath))
	if err == nil {
		if err := json.Unmarshal(data, &index); err != nil {
			s.log.Warn().Err(err).Str("project", projectPath).Msg("corrupt event index, starting empty")
			index = domain.EventIndex{}
		}
	}
	if index.Events == nil {
		index.Events = []domain.EventSummary{}
	}

	s.cache[projectPath] = &cachedIndex{index: cloneIndex(index), loadedAt: time.Now()}
	return index
}

// writeIndexLocked serializes the index, writes it to a temp path, and
// renames it over the target, then updates the cache synchronously.
func (s *Store) writeIndexLocked(projectPath string, index domain.EventIndex) error {
	if err := os.MkdirAll(eventsDir(projectPath), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}

	target := indexPath(projectPath)
	tmp, err := os.CreateTemp(filepath.Dir(target), indexFileName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}

	s.cache[projectPath] = &cachedIndex{index: cloneIndex(index), loadedAt: time.Now()}
	return nil
}

func cloneIndex(index domain.EventIndex) domain.EventIndex {
	events := make([]domain.EventSummary, len(index.Events))
	copy(events, index.Events)
	return domain.EventIndex{Events: events}
}

func newEventID() string {
	return fmt.Sprintf("evt-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
