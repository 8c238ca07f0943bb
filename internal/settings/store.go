package settings

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Options configures a Store.
type Options struct {
	// Path is the persisted settings file.
	Path string

	// DeviceID is the device-unique byte string keying the obfuscation
	// transform. Required when Obfuscate is true.
	DeviceID []byte

	// Obfuscate enables the at-rest transform. When false the file is
	// plain JSON (bench setups and tests).
	Obfuscate bool
}

// Store owns the settings tree: one subtree per manager, always the result
// of merging persisted values over declared defaults. All mutation funnels
// through Set, ResetDefaults, and Replace, each of which merges, persists,
// and notifies as one logical step.
//
// Execution is single-threaded today; the mutex keeps the entry points
// serialized so the invariant stays enforceable if concurrency arrives.
type Store struct {
	mu sync.Mutex

	path      string
	deviceID  []byte
	obfuscate bool

	tree     map[string]Value
	notifier *Notifier
	loaded   bool
}

// NewStore creates a store for the given options. Load must be called
// before the tree is usable.
func NewStore(opts Options) *Store {
	return &Store{
		path:      opts.Path,
		deviceID:  opts.DeviceID,
		obfuscate: opts.Obfuscate,
		tree:      make(map[string]Value),
		notifier:  NewNotifier(),
	}
}

// Notifier exposes change subscriptions.
func (s *Store) Notifier() *Notifier { return s.notifier }

// Loaded reports whether a persisted tree has been read successfully.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Load reads and decodes the persisted tree. Any failure — missing file,
// bad magic header, undecodable body — wraps ErrPersistence so the caller
// can enter safe mode.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return &PersistError{Path: s.path, Op: "read", Err: err}
	}

	if s.obfuscate {
		if len(data) < len(obfuscationMagic) || !bytes.Equal(data[:len(obfuscationMagic)], obfuscationMagic) {
			return &PersistError{Path: s.path, Op: "read", Err: fmt.Errorf("bad obfuscation header")}
		}
		data = xorTransform(data[len(obfuscationMagic):], seedFromDeviceID(s.deviceID))
	}

	root, err := ParseJSON(data)
	if err != nil {
		return &PersistError{Path: s.path, Op: "decode", Err: err}
	}
	if root.Kind() != KindMap {
		return &PersistError{Path: s.path, Op: "decode", Err: fmt.Errorf("document root is %s, want map", root.Kind())}
	}

	tree := make(map[string]Value, root.Len())
	for name, subtree := range root.Map() {
		tree[name] = subtree
	}
	s.tree = tree
	s.loaded = true
	return nil
}

// Save persists the whole tree.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := MapValue(s.tree).MarshalJSON()
	if err != nil {
		return &PersistError{Path: s.path, Op: "encode", Err: err}
	}

	if s.obfuscate {
		body := xorTransform(data, seedFromDeviceID(s.deviceID))
		data = append(append([]byte{}, obfuscationMagic...), body...)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &PersistError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

// Managers returns the sorted manager names present in the tree.
func (s *Store) Managers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tree))
	for name := range s.tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManagerTree returns a manager's merged subtree.
func (s *Store) ManagerTree(name string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtree, ok := s.tree[name]
	return subtree, ok
}

// MergeManager overlays any persisted values for name onto the declared
// defaults, installs the merged subtree in the tree, and returns it. The
// in-memory tree is therefore never raw defaults and never raw stored
// values.
func (s *Store) MergeManager(name string, defaults Value) Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := Merge(defaults, s.tree[name])
	s.tree[name] = merged
	return merged
}

// Resolve returns the current value at path inside the named manager's
// subtree.
func (s *Store) Resolve(manager, path string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(manager, path)
}

func (s *Store) resolveLocked(manager, path string) (Value, error) {
	subtree, ok := s.tree[manager]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownManager, manager)
	}
	return resolvePath(subtree, path)
}

// Set resolves path inside the named manager's subtree, coerces raw to the
// type of the existing value, writes it in place, persists the whole tree,
// and notifies observers. On any failure the prior value is retained and no
// notification is sent.
func (s *Store) Set(manager, path, raw, source string) (Change, error) {
	s.mu.Lock()

	old, err := s.resolveLocked(manager, path)
	if err != nil {
		s.mu.Unlock()
		return Change{}, err
	}

	coerced, err := Coerce(old, raw)
	if err != nil {
		s.mu.Unlock()
		return Change{}, err
	}

	if _, err := applyPath(s.tree[manager], path, coerced); err != nil {
		s.mu.Unlock()
		return Change{}, err
	}

	if err := s.saveLocked(); err != nil {
		// Roll the in-memory write back so memory and disk stay in step.
		applyPath(s.tree[manager], path, old)
		s.mu.Unlock()
		return Change{}, err
	}

	change := Change{Manager: manager, Path: path, Old: old, New: coerced, Source: source}
	s.mu.Unlock()

	s.notifier.Notify(change)
	return change, nil
}

// ResetDefaults rewrites the tree and the persisted file using only the
// given managers' declared defaults. Managers absent from the map (disabled
// or unloaded ones) are omitted entirely, not merely zeroed.
func (s *Store) ResetDefaults(defaults map[string]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]Value, len(defaults))
	for name, d := range defaults {
		tree[name] = d.Clone()
	}
	s.tree = tree
	return s.saveLocked()
}

// Replace swaps in a complete new tree and persists it. Used by the safe
// mode configuration channel when a full document arrives.
func (s *Store) Replace(root Value) error {
	if root.Kind() != KindMap {
		return fmt.Errorf("replacement document root is %s, want map", root.Kind())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]Value, root.Len())
	for name, subtree := range root.Map() {
		tree[name] = subtree.Clone()
	}
	s.tree = tree
	s.loaded = true
	return s.saveLocked()
}

// Snapshot returns a deep copy of the whole tree as a map value.
func (s *Store) Snapshot() Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MapValue(s.tree).Clone()
}
