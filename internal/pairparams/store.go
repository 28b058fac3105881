// Package pairparams provides an in-memory store for per-pair trading
// parameter overrides (stop and target multipliers, leverage caps) with JSON
// persistence and pub/sub for stream push.
package pairparams

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// Well-known parameter keys. The store accepts arbitrary keys; these are the
// ones the engine consumes.
const (
	KeyPriority       = "priority"
	KeyMaxLeverage    = "max_leverage"
	KeySLMultiplier   = "sl_multiplier"
	KeyTPMultiplier   = "tp_multiplier"
	KeyMinVolumeRatio = "min_volume_ratio"
	KeyATRPeriod      = "atr_period"
)

// Defaults returns the built-in per-pair tuning table. BNB runs tighter
// stops on lower priority numbers; BTC and ETH take wider stops for their
// volatility.
func Defaults() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"BNBUSDT": {
			KeyPriority:       1,
			KeyMaxLeverage:    8,
			KeySLMultiplier:   1.0,
			KeyTPMultiplier:   0.9,
			KeyMinVolumeRatio: 0.8,
			KeyATRPeriod:      14,
		},
		"BTCUSDT": {
			KeyPriority:       2,
			KeyMaxLeverage:    5,
			KeySLMultiplier:   1.3,
			KeyTPMultiplier:   1.2,
			KeyMinVolumeRatio: 1.0,
			KeyATRPeriod:      14,
		},
		"ETHUSDT": {
			KeyPriority:       3,
			KeyMaxLeverage:    5,
			KeySLMultiplier:   1.3,
			KeyTPMultiplier:   1.2,
			KeyMinVolumeRatio: 1.0,
			KeyATRPeriod:      14,
		},
	}
}

// Params is the resolved parameter view for one pair.
type Params struct {
	Priority       int     `json:"priority"`
	MaxLeverage    int     `json:"maxLeverage"`
	SLMultiplier   float64 `json:"slMultiplier"`
	TPMultiplier   float64 `json:"tpMultiplier"`
	MinVolumeRatio float64 `json:"minVolumeRatio"`
	ATRPeriod      int     `json:"atrPeriod"`
}

// Event is the wire format for stream messages.
type Event struct {
	Type  string                        `json:"type"`            // "snapshot", "set", "delete"
	Pair  string                        `json:"pair,omitempty"`  // set/delete only
	Key   string                        `json:"key,omitempty"`   // set/delete only
	Value float64                       `json:"value,omitempty"` // set only
	Data  map[string]map[string]float64 `json:"data,omitempty"`  // snapshot only
}

// Store holds pair parameters in memory with JSON persistence and pub/sub.
type Store struct {
	mu       sync.RWMutex
	params   map[string]map[string]float64 // pair -> key -> value
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store seeded with Defaults, then overlays persisted
// state from filePath when present.
func NewStore(filePath string, log *slog.Logger) *Store {
	s := &Store{
		params:   Defaults(),
		filePath: filePath,
		log:      log,
		subs:     make(map[int]chan Event),
	}
	s.load()
	return s
}

// Snapshot returns a deep copy of all parameters.
func (s *Store) Snapshot() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deepCopy()
}

// SnapshotEvent returns the snapshot wrapped for a newly attached stream
// subscriber.
func (s *Store) SnapshotEvent() Event {
	return Event{Type: "snapshot", Data: s.Snapshot()}
}

// Get returns parameters for a single pair (nil-safe).
func (s *Store) Get(pair string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.params[pair]
	if m == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ParamsFor resolves the typed view for a pair. Pairs without stored values
// fall back to neutral multipliers.
func (s *Store) ParamsFor(pair string) Params {
	m := s.Get(pair)
	p := Params{
		Priority:       99,
		MaxLeverage:    5,
		SLMultiplier:   1.0,
		TPMultiplier:   1.0,
		MinVolumeRatio: 1.0,
		ATRPeriod:      14,
	}
	if v, ok := m[KeyPriority]; ok {
		p.Priority = int(v)
	}
	if v, ok := m[KeyMaxLeverage]; ok {
		p.MaxLeverage = int(v)
	}
	if v, ok := m[KeySLMultiplier]; ok {
		p.SLMultiplier = v
	}
	if v, ok := m[KeyTPMultiplier]; ok {
		p.TPMultiplier = v
	}
	if v, ok := m[KeyMinVolumeRatio]; ok {
		p.MinVolumeRatio = v
	}
	if v, ok := m[KeyATRPeriod]; ok {
		p.ATRPeriod = int(v)
	}
	return p
}

// Set stores a value, persists to disk, and broadcasts to subscribers.
func (s *Store) Set(pair, key string, value float64) {
	s.mu.Lock()
	if s.params[pair] == nil {
		s.params[pair] = make(map[string]float64)
	}
	s.params[pair][key] = value
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "set", Pair: pair, Key: key, Value: value})
}

// Delete removes a value, persists to disk, and broadcasts to subscribers.
func (s *Store) Delete(pair, key string) {
	s.mu.Lock()
	if m, ok := s.params[pair]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(s.params, pair)
		}
	}
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "delete", Pair: pair, Key: key})
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer — drop event.
		}
	}
}

// load overlays the JSON file onto the seeded defaults.
func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // File doesn't exist yet — start from defaults.
	}
	var loaded map[string]map[string]float64
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading pairparams file", "error", err)
		return
	}
	for pair, kv := range loaded {
		if s.params[pair] == nil {
			s.params[pair] = make(map[string]float64, len(kv))
		}
		for k, v := range kv {
			s.params[pair][k] = v
		}
	}
	s.log.Info("loaded pairparams", "pairs", len(loaded))
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *Store) flush() {
	data, err := json.Marshal(s.params)
	if err != nil {
		s.log.Error("marshalling pairparams", "error", err)
		return
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		s.log.Error("writing pairparams file", "error", err)
	}
}

// deepCopy returns a deep copy of params. Must be called with mu held (read or write).
func (s *Store) deepCopy() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(s.params))
	for pair, m := range s.params {
		inner := make(map[string]float64, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[pair] = inner
	}
	return out
}
