package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	return s
}

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultPolicyIsValid(t *testing.T) {
	issues := Validate(DefaultPolicy())
	assert.Empty(t, issues)
}

func TestValidate(t *testing.T) {
	t.Run("MissingNameAndVersion", func(t *testing.T) {
		issues := Validate(&PolicySet{})
		assert.Contains(t, issues, "policy name is required")
		assert.Contains(t, issues, "policy version is required")
	})

	t.Run("ThresholdOutOfRange", func(t *testing.T) {
		ps := DefaultPolicy()
		ps.Guards["pii"].Threshold = 1.5

		issues := Validate(ps)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0], `"pii"`)
	})

	t.Run("MissingGuardType", func(t *testing.T) {
		ps := DefaultPolicy()
		ps.Guards["tone"].GuardType = ""

		issues := Validate(ps)
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0], "guard_type")
	})
}

func TestStoreLoadYAML(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	path := writePolicy(t, dir, "strict.yaml", `
name: strict
version: 2.0.0
description: Strict production policy
guards:
  pii:
    guard_type: pii
    enabled: true
    action: block
    severity: critical
    threshold: 0.95
`)

	ps, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", ps.Name)
	assert.Equal(t, "2.0.0", ps.Version)
	require.Contains(t, ps.Guards, "pii")
	assert.Equal(t, ActionBlock, ps.Guards["pii"].Action)
	assert.Equal(t, SeverityCritical, ps.Guards["pii"].Severity)
	assert.InDelta(t, 0.95, ps.Guards["pii"].Threshold, 1e-9)
}

func TestStoreLoadDefaults(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	// Bare slot: everything but the slot name is absent.
	path := writePolicy(t, dir, "sparse.yaml", `
guards:
  tone: {}
`)

	ps, err := s.Load(path)
	require.NoError(t, err)

	// Name falls back to the file stem, version to 1.0.0.
	assert.Equal(t, "sparse", ps.Name)
	assert.Equal(t, "1.0.0", ps.Version)

	gp := ps.Guards["tone"]
	require.NotNil(t, gp)
	assert.Equal(t, "tone", gp.GuardType)
	assert.True(t, gp.Enabled)
	assert.Equal(t, ActionBlock, gp.Action)
	assert.Equal(t, SeverityMedium, gp.Severity)
	assert.InDelta(t, 0.8, gp.Threshold, 1e-9)
	assert.NotNil(t, gp.CustomConfig)
}

func TestStoreLoadJSON(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	path := writePolicy(t, dir, "api.json", `{
  "name": "api",
  "version": "1.1.0",
  "guards": {
    "pii": {"guard_type": "pii", "action": "mask", "severity": "high", "threshold": 0.9}
  }
}`)

	ps, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "api", ps.Name)
	assert.Equal(t, ActionMask, ps.Guards["pii"].Action)
}

func TestStoreLoadInvalidAction(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	path := writePolicy(t, dir, "bad.yaml", `
name: bad
version: 1.0.0
guards:
  pii:
    action: obliterate
`)

	_, err := s.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid action")
}

func TestStoreLoadErrors(t *testing.T) {
	s := newTestStore(t)

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		path := writePolicy(t, t.TempDir(), "policy.toml", "name = 'nope'")
		_, err := s.Load(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestStoreInheritance(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	parentPath := writePolicy(t, dir, "base.yaml", `
name: base
version: 1.0.0
metadata:
  team: platform
guards:
  pii:
    guard_type: pii
    action: mask
    severity: high
    threshold: 0.9
  tone:
    guard_type: tone
    action: warn
    severity: low
    threshold: 0.5
`)
	childPath := writePolicy(t, dir, "child.yaml", `
name: child
version: 1.0.0
parent_policy: base
guards:
  tone:
    guard_type: tone
    action: block
    severity: critical
    threshold: 0.99
`)

	_, err := s.Load(parentPath)
	require.NoError(t, err)
	child, err := s.Load(childPath)
	require.NoError(t, err)

	// Parent-only slots pass through; child slots win on collision.
	require.Contains(t, child.Guards, "pii")
	assert.Equal(t, ActionMask, child.Guards["pii"].Action)
	assert.Equal(t, ActionBlock, child.Guards["tone"].Action)
	assert.InDelta(t, 0.99, child.Guards["tone"].Threshold, 1e-9)

	assert.Equal(t, "base", child.Metadata["inherited_from"])
	assert.Equal(t, "platform", child.Metadata["team"])
}

func TestStoreInheritanceParentMissing(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	path := writePolicy(t, dir, "orphan.yaml", `
name: orphan
version: 1.0.0
parent_policy: never-loaded
guards:
  pii:
    guard_type: pii
`)

	ps, err := s.Load(path)
	require.NoError(t, err)

	// Stored as-is: no merge, no inherited_from marker.
	assert.Len(t, ps.Guards, 1)
	assert.NotContains(t, ps.Metadata, "inherited_from")
	assert.Equal(t, "never-loaded", ps.ParentPolicy)
}

func TestStoreSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)

	t.Run("YAML", func(t *testing.T) {
		path, err := s.Save(DefaultPolicy(), "")
		require.NoError(t, err)

		reloaded, err := s.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "default", reloaded.Name)
		assert.Len(t, reloaded.Guards, 3)
		assert.Equal(t, ActionWarn, reloaded.Guards["tone"].Action)
	})

	t.Run("JSON", func(t *testing.T) {
		ps := DefaultPolicy()
		ps.Name = "default-json"
		path := filepath.Join(t.TempDir(), "default.json")

		saved, err := s.Save(ps, path)
		require.NoError(t, err)
		assert.Equal(t, path, saved)

		reloaded, err := s.Load(saved)
		require.NoError(t, err)
		assert.Equal(t, "default-json", reloaded.Name)
		assert.Len(t, reloaded.Guards, 3)
	})

	t.Run("UnsupportedExtension", func(t *testing.T) {
		_, err := s.Save(DefaultPolicy(), filepath.Join(t.TempDir(), "p.ini"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestStoreActivation(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "default", s.ActivePolicy().Name)

	t.Run("UnknownPolicy", func(t *testing.T) {
		_, err := s.SetActive("ghost")
		assert.ErrorIs(t, err, ErrPolicyNotLoaded)
	})

	t.Run("LoadedPolicy", func(t *testing.T) {
		path := writePolicy(t, t.TempDir(), "prod.yaml", `
name: prod
version: 1.0.0
guards:
  pii:
    guard_type: pii
`)
		_, err := s.Load(path)
		require.NoError(t, err)

		ps, err := s.SetActive("prod")
		require.NoError(t, err)
		assert.Equal(t, "prod", ps.Name)
		assert.Equal(t, "prod", s.ActivePolicy().Name)

		gp, ok := s.GuardConfig("pii")
		require.True(t, ok)
		assert.Equal(t, "pii", gp.GuardType)

		_, ok = s.GuardConfig("tone")
		assert.False(t, ok)
	})
}

func TestStoreList(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	for _, name := range []string{"zeta", "alpha"} {
		path := writePolicy(t, dir, name+".yaml", "name: "+name+"\nversion: 1.0.0\n")
		_, err := s.Load(path)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "default", "zeta"}, s.List())
}

func TestStoreSummary(t *testing.T) {
	s := newTestStore(t)

	sum, err := s.Summary("default")
	require.NoError(t, err)
	assert.Equal(t, "default", sum.Name)
	assert.Equal(t, 3, sum.GuardCount)
	assert.Equal(t, 3, sum.EnabledGuards)

	_, err = s.Summary("ghost")
	assert.ErrorIs(t, err, ErrPolicyNotLoaded)
}

func TestStoreTemplate(t *testing.T) {
	s := newTestStore(t)

	ps := s.Template("custom", []string{"pii", "tone"})
	assert.Equal(t, "custom", ps.Name)
	assert.Len(t, ps.Guards, 2)
	for name, gp := range ps.Guards {
		assert.Equal(t, name, gp.GuardType)
		assert.True(t, gp.Enabled)
		assert.Equal(t, ActionBlock, gp.Action)
	}
	assert.Equal(t, true, ps.Metadata["template"])
	assert.Empty(t, Validate(ps))
}

func TestStoreLoadFromEnv(t *testing.T) {
	t.Run("Unset", func(t *testing.T) {
		s := newTestStore(t)
		t.Setenv(PolicyEnvVar, "")

		ps, err := s.LoadFromEnv()
		require.NoError(t, err)
		assert.Nil(t, ps)
		assert.Equal(t, "default", s.ActivePolicy().Name)
	})

	t.Run("SetAndValid", func(t *testing.T) {
		s := newTestStore(t)
		path := writePolicy(t, t.TempDir(), "envpolicy.yaml", `
name: envpolicy
version: 1.0.0
guards:
  tts:
    guard_type: tts
`)
		t.Setenv(PolicyEnvVar, path)

		ps, err := s.LoadFromEnv()
		require.NoError(t, err)
		require.NotNil(t, ps)
		assert.Equal(t, "envpolicy", ps.Name)
		assert.Equal(t, "envpolicy", s.ActivePolicy().Name)
	})

	t.Run("SetButMissing", func(t *testing.T) {
		s := newTestStore(t)
		t.Setenv(PolicyEnvVar, filepath.Join(t.TempDir(), "gone.yaml"))

		_, err := s.LoadFromEnv()
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})
}

func TestParseAction(t *testing.T) {
	for _, valid := range []string{"block", "warn", "mask", "log_only", "audit"} {
		a, err := ParseAction(valid)
		require.NoError(t, err)
		assert.Equal(t, Action(valid), a)
	}
	_, err := ParseAction("nuke")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	for _, valid := range []string{"low", "medium", "high", "critical"} {
		sev, err := ParseSeverity(valid)
		require.NoError(t, err)
		assert.Equal(t, Severity(valid), sev)
	}
	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)
}
