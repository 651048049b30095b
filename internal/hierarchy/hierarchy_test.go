package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

func ptr(v int64) *int64 { return &v }

// SEDOC
// └── CGTI
//     ├── SESEL
//     └── SEDESENV
func testUnits() []domain.Unit {
	return []domain.Unit{
		{ID: 1, Sigla: "SEDOC", Kind: domain.UnitRoot},
		{ID: 2, Sigla: "CGTI", Kind: domain.UnitIntermediate, ParentID: ptr(1)},
		{ID: 3, Sigla: "SESEL", Kind: domain.UnitOperational, ParentID: ptr(2)},
		{ID: 4, Sigla: "SEDESENV", Kind: domain.UnitOperational, ParentID: ptr(2)},
	}
}

func TestTreeLookups(t *testing.T) {
	tree, err := New(testUnits())
	require.NoError(t, err)

	p, ok := tree.Parent(3)
	require.True(t, ok)
	assert.Equal(t, "CGTI", p.Sigla)

	root, ok := tree.Root(3)
	require.True(t, ok)
	assert.Equal(t, "SEDOC", root.Sigla)

	anc := tree.Ancestors(3)
	require.Len(t, anc, 2)
	assert.Equal(t, "CGTI", anc[0].Sigla)
	assert.Equal(t, "SEDOC", anc[1].Sigla)

	assert.True(t, tree.IsSubordinate(3, 1))
	assert.True(t, tree.IsSubordinate(3, 2))
	assert.False(t, tree.IsSubordinate(3, 4))
	assert.False(t, tree.IsSubordinate(1, 3))

	assert.True(t, tree.IsImmediateSuperior(3, 2))
	assert.False(t, tree.IsImmediateSuperior(3, 1))

	desc := tree.Descendants(1)
	assert.Len(t, desc, 3)

	roots := tree.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "SEDOC", roots[0].Sigla)
}

func TestTreeRejectsUnknownParent(t *testing.T) {
	_, err := New([]domain.Unit{
		{ID: 1, Sigla: "A", ParentID: ptr(99)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parent")
}

func TestTreeRejectsCycle(t *testing.T) {
	_, err := New([]domain.Unit{
		{ID: 1, Sigla: "A", ParentID: ptr(2)},
		{ID: 2, Sigla: "B", ParentID: ptr(1)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
