package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// PolicyEnvVar names a policy file to auto-load and activate at startup.
const PolicyEnvVar = "SAFELAYER_POLICY"

var (
	// ErrPolicyNotFound is returned when a policy file does not exist.
	ErrPolicyNotFound = errors.New("policy file not found")
	// ErrUnsupportedFormat is returned for unrecognized file extensions.
	ErrUnsupportedFormat = errors.New("unsupported policy file format")
	// ErrPolicyNotLoaded is returned when activating a policy that is not
	// in the registry.
	ErrPolicyNotLoaded = errors.New("policy not loaded")
)

// Store is the in-memory policy registry: loaded policy sets keyed by name
// and the single active selection. All mutation goes through the store's
// lock, so concurrent load/save/activate calls are safe.
type Store struct {
	dir    string
	logger *logger.Logger

	mu     sync.RWMutex
	loaded map[string]*PolicySet
	active *PolicySet
}

// NewStore creates a policy store rooted at dir and registers the built-in
// default policy as the active set.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: log,
		loaded: make(map[string]*PolicySet),
	}

	def := DefaultPolicy()
	s.loaded[def.Name] = def
	s.active = def

	log.Info("Policy store initialized",
		zap.String("dir", dir),
		zap.String("active", def.Name),
	)

	return s, nil
}

// DefaultPolicy returns the built-in fallback policy set.
func DefaultPolicy() *PolicySet {
	return &PolicySet{
		Name:        "default",
		Version:     "1.0.0",
		Description: "Default SafeLayer policy set",
		Guards: map[string]*GuardPolicy{
			"pii": {
				GuardType:    "pii",
				Enabled:      true,
				Action:       ActionMask,
				Severity:     SeverityHigh,
				Threshold:    0.9,
				CustomConfig: map[string]interface{}{},
			},
			"tone": {
				GuardType:    "tone",
				Enabled:      true,
				Action:       ActionWarn,
				Severity:     SeverityMedium,
				Threshold:    0.7,
				CustomConfig: map[string]interface{}{},
			},
			"tts": {
				GuardType:    "tts",
				Enabled:      true,
				Action:       ActionBlock,
				Severity:     SeverityCritical,
				Threshold:    0.8,
				CustomConfig: map[string]interface{}{},
			},
		},
		Metadata: map[string]interface{}{
			"created_by":     "SafeLayer",
			"auto_generated": true,
		},
	}
}

// policyFile mirrors the on-disk document. Guard fields are pointers so that
// absent optional fields can be distinguished from zero values and defaulted.
type policyFile struct {
	Name         string                     `yaml:"name" json:"name"`
	Version      string                     `yaml:"version" json:"version"`
	Description  string                     `yaml:"description" json:"description"`
	ParentPolicy string                     `yaml:"parent_policy" json:"parent_policy"`
	Metadata     map[string]interface{}     `yaml:"metadata" json:"metadata"`
	Guards       map[string]guardPolicyFile `yaml:"guards" json:"guards"`
}

type guardPolicyFile struct {
	GuardType    *string                `yaml:"guard_type" json:"guard_type"`
	Enabled      *bool                  `yaml:"enabled" json:"enabled"`
	Action       *Action                `yaml:"action" json:"action"`
	Severity     *Severity              `yaml:"severity" json:"severity"`
	Threshold    *float64               `yaml:"threshold" json:"threshold"`
	CustomConfig map[string]interface{} `yaml:"custom_config" json:"custom_config"`
}

// Load parses a policy file (YAML or JSON by extension), fills per-slot
// defaults for absent fields, resolves one level of inheritance against the
// already-loaded registry, and registers the result.
//
// If the named parent is not yet loaded the child is stored standalone and
// the skip is logged; transitive inheritance is not chased.
func (s *Store) Load(path string) (*PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, path)
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse policy file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse policy file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	ps := s.build(&file, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ps.ParentPolicy != "" {
		if parent, ok := s.loaded[ps.ParentPolicy]; ok {
			ps = merge(parent, ps)
		} else {
			s.logger.Info("Parent policy not loaded, inheritance skipped",
				zap.String("policy", ps.Name),
				zap.String("parent", ps.ParentPolicy),
			)
		}
	}

	s.loaded[ps.Name] = ps

	s.logger.Info("Policy loaded",
		zap.String("policy", ps.Name),
		zap.String("version", ps.Version),
		zap.Int("guards", len(ps.Guards)),
	)

	return ps, nil
}

// build converts the on-disk shape to a PolicySet, applying defaults.
func (s *Store) build(file *policyFile, path string) *PolicySet {
	guards := make(map[string]*GuardPolicy, len(file.Guards))
	for name, gf := range file.Guards {
		gp := &GuardPolicy{
			GuardType:    name,
			Enabled:      true,
			Action:       ActionBlock,
			Severity:     SeverityMedium,
			Threshold:    0.8,
			CustomConfig: map[string]interface{}{},
		}
		if gf.GuardType != nil {
			gp.GuardType = *gf.GuardType
		}
		if gf.Enabled != nil {
			gp.Enabled = *gf.Enabled
		}
		if gf.Action != nil {
			gp.Action = *gf.Action
		}
		if gf.Severity != nil {
			gp.Severity = *gf.Severity
		}
		if gf.Threshold != nil {
			gp.Threshold = *gf.Threshold
		}
		if gf.CustomConfig != nil {
			gp.CustomConfig = gf.CustomConfig
		}
		guards[name] = gp
	}

	name := file.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	version := file.Version
	if version == "" {
		version = "1.0.0"
	}
	metadata := file.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return &PolicySet{
		Name:         name,
		Version:      version,
		Description:  file.Description,
		Guards:       guards,
		Metadata:     metadata,
		ParentPolicy: file.ParentPolicy,
	}
}

// merge overlays the child's guard slots and metadata onto the parent's.
// Child entries win on key collision; parent-only entries pass through. The
// merged metadata records the parent under "inherited_from".
func merge(parent, child *PolicySet) *PolicySet {
	guards := make(map[string]*GuardPolicy, len(parent.Guards)+len(child.Guards))
	for name, gp := range parent.Guards {
		guards[name] = gp
	}
	for name, gp := range child.Guards {
		guards[name] = gp
	}

	metadata := make(map[string]interface{}, len(parent.Metadata)+len(child.Metadata)+1)
	for k, v := range parent.Metadata {
		metadata[k] = v
	}
	for k, v := range child.Metadata {
		metadata[k] = v
	}
	metadata["inherited_from"] = parent.Name

	return &PolicySet{
		Name:         child.Name,
		Version:      child.Version,
		Description:  child.Description,
		Guards:       guards,
		Metadata:     metadata,
		ParentPolicy: child.ParentPolicy,
	}
}

// Save serializes a policy to path using field names stable across
// round-trips. An empty path writes <dir>/<name>.yaml.
func (s *Store) Save(ps *PolicySet, path string) (string, error) {
	if path == "" {
		path = filepath.Join(s.dir, ps.Name+".yaml")
	}

	var data []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(ps)
	case ".json":
		data, err = json.MarshalIndent(ps, "", "  ")
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", fmt.Errorf("failed to serialize policy: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write policy file: %w", err)
	}

	s.logger.Info("Policy saved",
		zap.String("policy", ps.Name),
		zap.String("path", path),
	)

	return path, nil
}

// SetActive selects an already-loaded policy as the current one.
func (s *Store) SetActive(name string) (*PolicySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.loaded[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotLoaded, name)
	}

	s.active = ps
	s.logger.Info("Active policy changed", zap.String("policy", name))
	return ps, nil
}

// ActivePolicy returns the current selection, falling back to the built-in
// default when none has ever been set.
func (s *Store) ActivePolicy() *PolicySet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return DefaultPolicy()
	}
	return s.active
}

// GuardConfig returns the active policy's configuration for one guard slot.
func (s *Store) GuardConfig(name string) (*GuardPolicy, bool) {
	gp, ok := s.ActivePolicy().Guards[name]
	return gp, ok
}

// Template builds a policy set with one default-configured entry per
// requested guard name.
func (s *Store) Template(name string, guardNames []string) *PolicySet {
	guards := make(map[string]*GuardPolicy, len(guardNames))
	for _, gn := range guardNames {
		guards[gn] = &GuardPolicy{
			GuardType:    gn,
			Enabled:      true,
			Action:       ActionBlock,
			Severity:     SeverityMedium,
			Threshold:    0.8,
			CustomConfig: map[string]interface{}{},
		}
	}

	return &PolicySet{
		Name:        name,
		Version:     "1.0.0",
		Description: fmt.Sprintf("Template policy for %s", name),
		Guards:      guards,
		Metadata: map[string]interface{}{
			"template":   true,
			"created_by": "SafeLayer policy store",
		},
	}
}

// List returns the names of all loaded policies, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns a condensed view of a loaded policy.
func (s *Store) Summary(name string) (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.loaded[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotLoaded, name)
	}

	enabled := 0
	for _, gp := range ps.Guards {
		if gp.Enabled {
			enabled++
		}
	}

	return &Summary{
		Name:          ps.Name,
		Version:       ps.Version,
		Description:   ps.Description,
		ParentPolicy:  ps.ParentPolicy,
		GuardCount:    len(ps.Guards),
		EnabledGuards: enabled,
		Metadata:      ps.Metadata,
	}, nil
}

// LoadFromEnv loads and activates the policy file named by SAFELAYER_POLICY.
// An unset variable is not an error and leaves the default active; a set but
// unloadable file is.
func (s *Store) LoadFromEnv() (*PolicySet, error) {
	path := os.Getenv(PolicyEnvVar)
	if path == "" {
		return nil, nil
	}

	ps, err := s.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy from %s: %w", PolicyEnvVar, err)
	}

	if _, err := s.SetActive(ps.Name); err != nil {
		return nil, err
	}

	return ps, nil
}
