package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"bilancio/internal/core"
)

// fakeCategories is a minimal in-memory CategoryStore for resolver tests.
type fakeCategories struct {
	byID map[int64]core.Category
}

func newFakeCategories(cats ...core.Category) *fakeCategories {
	f := &fakeCategories{byID: make(map[int64]core.Category)}
	for _, c := range cats {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCategories) GetCategory(_ context.Context, id int64) (core.Category, error) {
	c, ok := f.byID[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCategories) CreateCategory(_ context.Context, c core.Category) (int64, error) {
	f.byID[c.ID] = c
	return c.ID, nil
}

func (f *fakeCategories) UpdateCategory(_ context.Context, c core.Category) error {
	f.byID[c.ID] = c
	return nil
}

func (f *fakeCategories) GetChildren(_ context.Context, id int64) ([]core.Category, error) {
	var out []core.Category
	for _, c := range f.byID {
		if c.ParentID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func expenseCat(id, parent int64) core.Category {
	return core.Category{ID: id, OwnerID: 1, Name: fmt.Sprintf("cat-%d", id), Type: core.Expense, ParentID: parent, Active: true}
}

func TestHierarchyDescendants(t *testing.T) {
	// 1 -> {2, 3}, 2 -> {4}
	cats := newFakeCategories(
		expenseCat(1, 0), expenseCat(2, 1), expenseCat(3, 1), expenseCat(4, 2),
	)
	tree := NewHierarchy()

	got, err := tree.Descendants(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Descendants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Descendants = %v, want %v (BFS order)", got, want)
		}
	}

	leaf, err := tree.Descendants(context.Background(), cats, 4)
	if err != nil {
		t.Fatalf("Descendants leaf: %v", err)
	}
	if len(leaf) != 1 || leaf[0] != 4 {
		t.Fatalf("leaf Descendants = %v, want [4]", leaf)
	}
}

func TestHierarchyDescendantsMemoized(t *testing.T) {
	cats := newFakeCategories(expenseCat(1, 0), expenseCat(2, 1))
	tree := NewHierarchy()

	if _, err := tree.Descendants(context.Background(), cats, 1); err != nil {
		t.Fatalf("Descendants: %v", err)
	}

	// A store change without Invalidate is not observed.
	cats.byID[3] = expenseCat(3, 1)
	got, err := tree.Descendants(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("memoized Descendants = %v, want the cached 2-node set", got)
	}

	tree.Invalidate()
	got, err = tree.Descendants(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("post-invalidate Descendants = %v, want 3 nodes", got)
	}
}

func TestHierarchyCycleSafety(t *testing.T) {
	// 1 -> 2 -> 3, then 1's parent forced to 3: a cycle no write path would
	// allow, which traversal must still survive.
	cats := newFakeCategories(expenseCat(1, 0), expenseCat(2, 1), expenseCat(3, 2))
	broken := cats.byID[1]
	broken.ParentID = 3
	cats.byID[1] = broken

	tree := NewHierarchy()

	got, err := tree.Descendants(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Descendants on cyclic tree: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("cyclic Descendants = %v, want each node once", got)
	}

	anc, err := tree.Ancestors(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Ancestors on cyclic tree: %v", err)
	}
	if len(anc) != 2 {
		t.Fatalf("cyclic Ancestors = %v, want bounded walk [3 2]", anc)
	}
}

func TestHierarchyAncestors(t *testing.T) {
	cats := newFakeCategories(expenseCat(1, 0), expenseCat(2, 1), expenseCat(3, 2))
	tree := NewHierarchy()

	got, err := tree.Ancestors(context.Background(), cats, 3)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("Ancestors = %v, want [2 1] (nearest first)", got)
	}

	root, err := tree.Ancestors(context.Background(), cats, 1)
	if err != nil {
		t.Fatalf("Ancestors root: %v", err)
	}
	if len(root) != 0 {
		t.Fatalf("root Ancestors = %v, want empty", root)
	}
}

func TestHierarchyCheckParent(t *testing.T) {
	cats := newFakeCategories(
		expenseCat(1, 0),
		expenseCat(2, 1),
		core.Category{ID: 5, OwnerID: 2, Name: "other owner", Type: core.Expense, Active: true},
		core.Category{ID: 6, OwnerID: 1, Name: "income", Type: core.Income, Active: true},
		core.Category{ID: 7, OwnerID: 1, Name: "retired", Type: core.Expense, Active: false},
	)
	tree := NewHierarchy()

	tests := []struct {
		name     string
		category core.Category
		wantErr  error
	}{
		{"root is fine", expenseCat(3, 0), nil},
		{"valid parent", expenseCat(3, 2), nil},
		{"self parent", expenseCat(2, 2), core.ErrCategoryCycle},
		{"parent in own subtree", expenseCat(1, 2), core.ErrCategoryCycle},
		{"missing parent", expenseCat(3, 99), core.ErrNotFound},
		{"foreign owner parent", expenseCat(3, 5), core.ErrOwnershipMismatch},
		{"type mismatch parent", expenseCat(3, 6), core.ErrCategoryTypeMismatch},
		{"inactive parent", expenseCat(3, 7), core.ErrInactiveCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tree.CheckParent(context.Background(), cats, tt.category)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("CheckParent: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckParent = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
