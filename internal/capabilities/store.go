// Package capabilities is the off-chain capability index: free-text tags
// attached to directory-registered agents, persisted as a single JSON
// document and searched by substring.
package capabilities

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoValidCapabilities is returned when normalization leaves zero tags.
var ErrNoValidCapabilities = errors.New("no valid capabilities")

const (
	metaKey        = "_meta"
	storeVersion   = "1.0.0"
	maxTagLen      = 32
	maxDescription = 200
)

var tagRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// Entry is one agent's capability record.
type Entry struct {
	Capabilities []string  `json:"capabilities"`
	Description  *string   `json:"description"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Meta is the reserved bookkeeping record under the _meta key. It is never
// an agent entry and every scan skips it.
type Meta struct {
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store serializes all access to the persisted index. The whole document is
// rewritten on every accepted update (last writer wins).
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	meta    Meta
}

// Open loads the index from path, starting fresh when the file is missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
		meta:    Meta{Version: storeVersion},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read capability index: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse capability index: %w", err)
	}
	for key, val := range doc {
		if key == metaKey {
			if err := json.Unmarshal(val, &s.meta); err != nil {
				logger.Warn("ignoring malformed _meta", "err", err)
				s.meta = Meta{Version: storeVersion}
			}
			continue
		}
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("parse capability entry %q: %w", key, err)
		}
		s.entries[key] = e
	}
	return s, nil
}

// Normalize lower-cases and trims candidate tags, drops anything outside
// [a-z0-9-]{1,32}, and dedupes preserving first-insertion order.
func Normalize(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tag := strings.ToLower(strings.TrimSpace(c))
		if tag == "" || len(tag) > maxTagLen || !tagRe.MatchString(tag) {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Set replaces (not merges) the agent's capability set and description and
// persists the whole document atomically. The caller is responsible for
// having confirmed the agent exists in the directory.
func (s *Store) Set(name string, candidates []string, description *string) (Entry, error) {
	tags := Normalize(candidates)
	if len(tags) == 0 {
		return Entry{}, ErrNoValidCapabilities
	}
	if description != nil {
		d := *description
		if len(d) > maxDescription {
			d = d[:maxDescription]
		}
		description = &d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	entry := Entry{Capabilities: tags, Description: description, UpdatedAt: now}
	s.entries[name] = entry
	s.meta.UpdatedAt = now

	if err := s.persistLocked(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// persistLocked rewrites the backing file via temp file + rename so readers
// never observe a torn document. Caller holds s.mu.
func (s *Store) persistLocked() error {
	doc := make(map[string]interface{}, len(s.entries)+1)
	doc[metaKey] = s.meta
	for name, e := range s.entries {
		doc[name] = e
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode capability index: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".capabilities-*.json")
	if err != nil {
		return fmt.Errorf("write capability index: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write capability index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write capability index: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write capability index: %w", err)
	}
	return nil
}

// Get returns the entry for an agent name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e, ok
}

// Match is one search hit, including which tags contained the query.
type Match struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Description  *string  `json:"description"`
	MatchedOn    []string `json:"matchedOn"`
}

// Find returns every agent with at least one tag containing the query as a
// substring. Results are sorted by name for stable output.
func (s *Store) Find(query string) []Match {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := []Match{}
	for name, e := range s.entries {
		var hit []string
		for _, tag := range e.Capabilities {
			if strings.Contains(tag, query) {
				hit = append(hit, tag)
			}
		}
		if len(hit) > 0 {
			matches = append(matches, Match{
				Name:         name,
				Capabilities: e.Capabilities,
				Description:  e.Description,
				MatchedOn:    hit,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches
}

// TagCount aggregates one tag across all agents.
type TagCount struct {
	Capability string   `json:"capability"`
	Count      int      `json:"count"`
	Agents     []string `json:"agents"`
}

// Histogram lists every tag with its member agents, sorted by descending
// member count, ties broken by tag name.
func (s *Store) Histogram() []TagCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTag := make(map[string][]string)
	for name, e := range s.entries {
		for _, tag := range e.Capabilities {
			byTag[tag] = append(byTag[tag], name)
		}
	}

	out := make([]TagCount, 0, len(byTag))
	for tag, agents := range byTag {
		sort.Strings(agents)
		out = append(out, TagCount{Capability: tag, Count: len(agents), Agents: agents})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Capability < out[j].Capability
	})
	return out
}

// Len reports the number of agent entries (excluding _meta).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
