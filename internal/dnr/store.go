package dnr

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	renameio "github.com/google/renameio/v2"
)

// DefaultMaxDynamicRules is the default ceiling of the number of dynamic rules.
const DefaultMaxDynamicRules = 30_000

// MemoryStore is a [RuleStore] that keeps the rules in memory.
type MemoryStore struct {
	// mu protects rules.
	mu    *sync.Mutex
	rules map[int]*Rule

	maxRules int
}

// NewMemoryStore returns a new empty *MemoryStore with the given ceiling.
func NewMemoryStore(maxRules int) (s *MemoryStore) {
	return &MemoryStore{
		mu:       &sync.Mutex{},
		rules:    map[int]*Rule{},
		maxRules: maxRules,
	}
}

// type check
var _ RuleStore = (*MemoryStore)(nil)

// UpdateDynamicRules implements the [RuleStore] interface for *MemoryStore.
func (s *MemoryStore) UpdateDynamicRules(
	_ context.Context,
	removeIDs []int,
	add []*Rule,
) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := applyUpdate(s.rules, removeIDs, add, s.maxRules)
	if err != nil {
		return err
	}

	s.rules = next

	return nil
}

// DynamicRules implements the [RuleStore] interface for *MemoryStore.  The
// rules are sorted by their identifiers.
func (s *MemoryStore) DynamicRules(_ context.Context) (rules []*Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedRules(s.rules), nil
}

// MaxDynamicRules implements the [RuleStore] interface for *MemoryStore.
func (s *MemoryStore) MaxDynamicRules() (n int) {
	return s.maxRules
}

// FileStore is a [RuleStore] that writes the full set of rules into a JSON
// file after every update.
type FileStore struct {
	// mu protects rules and the file.
	mu    *sync.Mutex
	rules map[int]*Rule

	path     string
	maxRules int
}

// NewFileStore returns a new *FileStore with the rules read from the file at
// path, if it exists.
func NewFileStore(path string, maxRules int) (s *FileStore, err error) {
	s = &FileStore{
		mu:       &sync.Mutex{},
		rules:    map[int]*Rule{},
		path:     path,
		maxRules: maxRules,
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}

	var rules []*Rule
	err = json.Unmarshal(b, &rules)
	if err != nil {
		return nil, fmt.Errorf("decoding rules from %q: %w", path, err)
	}

	for _, r := range rules {
		s.rules[r.ID] = r
	}

	return s, nil
}

// type check
var _ RuleStore = (*FileStore)(nil)

// UpdateDynamicRules implements the [RuleStore] interface for *FileStore.
func (s *FileStore) UpdateDynamicRules(
	_ context.Context,
	removeIDs []int,
	add []*Rule,
) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := applyUpdate(s.rules, removeIDs, add, s.maxRules)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(sortedRules(next), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}

	err = renameio.WriteFile(s.path, b, 0o644)
	if err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}

	s.rules = next

	return nil
}

// DynamicRules implements the [RuleStore] interface for *FileStore.  The rules
// are sorted by their identifiers.
func (s *FileStore) DynamicRules(_ context.Context) (rules []*Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedRules(s.rules), nil
}

// MaxDynamicRules implements the [RuleStore] interface for *FileStore.
func (s *FileStore) MaxDynamicRules() (n int) {
	return s.maxRules
}

// applyUpdate returns a copy of rules with the update applied.  rules is not
// modified.
func applyUpdate(
	rules map[int]*Rule,
	removeIDs []int,
	add []*Rule,
	maxRules int,
) (next map[int]*Rule, err error) {
	next = maps.Clone(rules)
	for _, id := range removeIDs {
		delete(next, id)
	}

	for _, r := range add {
		if _, ok := next[r.ID]; ok {
			return nil, fmt.Errorf("rule id %d: %w", r.ID, errors.ErrDuplicated)
		}

		next[r.ID] = r.Clone()
	}

	if len(next) > maxRules {
		return nil, fmt.Errorf("%w: %d rules, max %d", ErrTooManyRules, len(next), maxRules)
	}

	return next, nil
}

// sortedRules returns copies of the rules sorted by identifier.
func sortedRules(rules map[int]*Rule) (sorted []*Rule) {
	ids := slices.Sorted(maps.Keys(rules))
	sorted = make([]*Rule, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, rules[id].Clone())
	}

	return sorted
}
