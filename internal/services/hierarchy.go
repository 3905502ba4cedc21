package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
)

// Hierarchy resolves descendant and ancestor sets over the category tree.
// Traversal is cycle-guarded with visited sets so corrupted parent links
// terminate with a bounded result instead of hanging; acyclicity is enforced
// at write time via CheckParent, so a read-time cycle hit is a data-integrity
// warning, not an error.
type Hierarchy struct {
	memo *cache.LRUCache[[]int64]
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{memo: cache.NewLRUCache[[]int64](512, 10*time.Minute)}
}

// Sweeper exposes the memo for periodic expiry sweeps.
func (h *Hierarchy) Sweeper() cache.Cleaner {
	return h.memo
}

// Descendants returns the subtree rooted at id, id itself included, in BFS
// order. Results are memoized until the next category write.
func (h *Hierarchy) Descendants(ctx context.Context, cats CategoryStore, id int64) ([]int64, error) {
	key := strconv.FormatInt(id, 10)
	if ids, ok := h.memo.Get(key); ok {
		return ids, nil
	}

	visited := map[int64]bool{id: true}
	out := []int64{id}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := cats.GetChildren(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("children of category %d: %w", cur, err)
		}
		for _, c := range children {
			if visited[c.ID] {
				slog.WarnContext(ctx, "Cycle detected in category tree, skipping revisit",
					"category_id", c.ID, "reached_from", cur)
				continue
			}
			visited[c.ID] = true
			out = append(out, c.ID)
			queue = append(queue, c.ID)
		}
	}

	h.memo.Set(key, out)
	return out, nil
}

// Ancestors walks parent links from id up to the root, excluding id itself.
// The nearest ancestor comes first.
func (h *Hierarchy) Ancestors(ctx context.Context, cats CategoryStore, id int64) ([]int64, error) {
	visited := map[int64]bool{id: true}
	var out []int64

	cur, err := cats.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	for cur.ParentID != 0 {
		if visited[cur.ParentID] {
			slog.WarnContext(ctx, "Cycle detected in category parent chain, stopping walk",
				"category_id", id, "repeated_id", cur.ParentID)
			break
		}
		visited[cur.ParentID] = true
		out = append(out, cur.ParentID)

		cur, err = cats.GetCategory(ctx, cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent of category %d: %w", cur.ID, err)
		}
	}
	return out, nil
}

// CheckParent validates a candidate parent assignment before a category
// write: the parent must exist, share owner and type, be active, and must not
// sit inside the candidate's own subtree.
func (h *Hierarchy) CheckParent(ctx context.Context, cats CategoryStore, c core.Category) error {
	if c.ParentID == 0 {
		return nil
	}
	if c.ParentID == c.ID {
		return fmt.Errorf("category %d cannot be its own parent: %w", c.ID, core.ErrCategoryCycle)
	}

	parent, err := cats.GetCategory(ctx, c.ParentID)
	if err != nil {
		return fmt.Errorf("parent category: %w", err)
	}
	if parent.OwnerID != c.OwnerID {
		return fmt.Errorf("parent category %d: %w", parent.ID, core.ErrOwnershipMismatch)
	}
	if parent.Type != c.Type {
		return fmt.Errorf("parent category %d: %w", parent.ID, core.ErrCategoryTypeMismatch)
	}
	if !parent.Active {
		return fmt.Errorf("parent category %d: %w", parent.ID, core.ErrInactiveCategory)
	}

	if c.ID != 0 {
		subtree, err := h.Descendants(ctx, cats, c.ID)
		if err != nil {
			return err
		}
		for _, id := range subtree {
			if id == c.ParentID {
				return fmt.Errorf("parent %d is a descendant of category %d: %w",
					c.ParentID, c.ID, core.ErrCategoryCycle)
			}
		}
	}
	return nil
}

// Invalidate drops all memoized sets. Called after any category write since
// a single reparenting can change arbitrarily many subtrees.
func (h *Hierarchy) Invalidate() {
	h.memo.Clear()
}

// CategoryService owns category writes, keeping the tree acyclic and the
// resolver's memo coherent.
type CategoryService struct {
	uow  UnitOfWork
	tree *Hierarchy
}

func NewCategoryService(uow UnitOfWork, tree *Hierarchy) *CategoryService {
	return &CategoryService{uow: uow, tree: tree}
}

func (s *CategoryService) Create(ctx context.Context, c core.Category) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.uow.RunInTx(ctx, func(store Store) error {
		if err := s.tree.CheckParent(ctx, store.Categories(), c); err != nil {
			return err
		}
		var err error
		id, err = store.Categories().CreateCategory(ctx, c)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.tree.Invalidate()
	slog.InfoContext(ctx, "Category created",
		"category_id", id, "owner_id", c.OwnerID, "parent_id", c.ParentID, "type", c.Type)
	return id, nil
}

func (s *CategoryService) Update(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}

	err := s.uow.RunInTx(ctx, func(store Store) error {
		old, err := store.Categories().GetCategory(ctx, c.ID)
		if err != nil {
			return err
		}
		if old.OwnerID != c.OwnerID {
			return fmt.Errorf("category %d: %w", c.ID, core.ErrOwnershipMismatch)
		}
		if err := s.tree.CheckParent(ctx, store.Categories(), c); err != nil {
			return err
		}
		return store.Categories().UpdateCategory(ctx, c)
	})
	if err != nil {
		return err
	}

	s.tree.Invalidate()
	slog.InfoContext(ctx, "Category updated", "category_id", c.ID, "parent_id", c.ParentID)
	return nil
}
