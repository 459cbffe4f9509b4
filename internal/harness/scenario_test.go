package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for loading"
catalog: catalog.cue
setup:
  - action: LinesAdd
    payload:
      lines:
        - { merchandiseId: A, quantity: 1 }
steps:
  - submit:
      as: u1
      action: LinesUpdate
      payload:
        lines:
          - { id: line-1, quantity: 2 }
  - deliver: u1
  - expect:
      totalQuantity: 2
final:
  converged: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, filepath.Join(dir, "catalog.cue"), s.Catalog)
	require.Len(t, s.Setup, 1)
	require.Len(t, s.Steps, 3)
	require.NotNil(t, s.Steps[0].Submit)
	assert.Equal(t, "u1", s.Steps[0].Submit.As)
	assert.Equal(t, cart.KindLinesUpdate, s.Steps[0].Submit.Action)
	assert.Equal(t, "u1", s.Steps[1].Deliver)
	require.NotNil(t, s.Steps[2].Expect.TotalQuantity)
	assert.Equal(t, 2, *s.Steps[2].Expect.TotalQuantity)
	require.NotNil(t, s.Final)
	assert.True(t, s.Final.Converged)

	m, err := s.Steps[0].Submit.Mutation()
	require.NoError(t, err)
	assert.Equal(t, cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: "line-1", Quantity: 2}}}, m)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_AbsoluteCatalogKept(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "elsewhere", "catalog.cue")
	path := filepath.Join(dir, "s.yaml")
	content := "name: s\ndescription: d\ncatalog: " + abs + "\nsteps:\n  - expect: { empty: true }\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, s.Catalog)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - expect: { empty: true }\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps:\n  - expect: { empty: true }\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nflow: []\nsteps:\n  - expect: { empty: true }\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "two kinds in one step",
			yaml: `name: n
description: d
steps:
  - submit: { as: a, action: LinesRemove, payload: { lineIds: [x] } }
    deliver: a
`,
			wantErr: "exactly one of submit, arrive, deliver, fail, expect",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nsteps:\n  - {}\n",
			wantErr: "exactly one of",
		},
		{
			name:    "arrive before submit",
			yaml:    "name: n\ndescription: d\nsteps:\n  - arrive: a\n",
			wantErr: `"a" has not been submitted`,
		},
		{
			name: "arrive after deliver",
			yaml: `name: n
description: d
steps:
  - submit: { as: a, action: LinesRemove, payload: { lineIds: [x] } }
  - deliver: a
  - arrive: a
`,
			wantErr: `"a" has already reached the backend`,
		},
		{
			name:    "submit without name",
			yaml:    "name: n\ndescription: d\nsteps:\n  - submit: { action: LinesRemove, payload: { lineIds: [x] } }\n",
			wantErr: "as is required",
		},
		{
			name: "duplicate name",
			yaml: `name: n
description: d
steps:
  - submit: { as: a, action: LinesRemove, payload: { lineIds: [x] } }
  - submit: { as: a, action: LinesRemove, payload: { lineIds: [y] } }
`,
			wantErr: `duplicate name "a"`,
		},
		{
			name:    "deliver before submit",
			yaml:    "name: n\ndescription: d\nsteps:\n  - deliver: a\n",
			wantErr: `"a" has not been submitted`,
		},
		{
			name: "resolved twice",
			yaml: `name: n
description: d
steps:
  - submit: { as: a, action: LinesRemove, payload: { lineIds: [x] } }
  - deliver: a
  - fail: a
`,
			wantErr: `"a" is already resolved`,
		},
		{
			name:    "unknown action",
			yaml:    "name: n\ndescription: d\nsteps:\n  - submit: { as: a, action: CartDelete, payload: {} }\n",
			wantErr: "steps[0].submit",
		},
		{
			name:    "invalid payload",
			yaml:    "name: n\ndescription: d\nsteps:\n  - submit: { as: a, action: LinesAdd, payload: { lines: [{ merchandiseId: A, quantity: 0 }] } }\n",
			wantErr: "invalid LinesAdd payload",
		},
		{
			name:    "invalid setup",
			yaml:    "name: n\ndescription: d\nsetup:\n  - action: LinesRemove\n    payload: { lineIds: [] }\nsteps:\n  - expect: { empty: true }\n",
			wantErr: "setup[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
