package memory

import (
	"context"
	"errors"
	"fmt"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// Associate records a directed edge from fromID to toID. An existing edge to
// the same target has its metadata replaced. Both ids must exist.
func (s *Store) Associate(ctx context.Context, fromID, toID string, metadata map[string]any) (err error) {
	defer func() { s.observe("associate", err) }()

	if fromID == toID {
		return llmerrors.NewValidationError("an entry cannot be associated with itself")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	from, err := s.Get(ctx, fromID)
	if err != nil {
		return err
	}
	if _, err := s.Get(ctx, toID); err != nil {
		return err
	}

	edge := Association{TargetID: toID, Metadata: cloneMap(metadata), CreatedAt: s.clock.Now().UTC()}
	replaced := false
	for i, a := range from.Associations {
		if a.TargetID == toID {
			edge.CreatedAt = a.CreatedAt
			from.Associations[i] = edge
			replaced = true
			break
		}
	}
	if !replaced {
		from.Associations = append(from.Associations, edge)
	}

	if err := s.persistence.Put(ctx, from); err != nil {
		return fmt.Errorf("persist association %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// Dissociate removes the edge from fromID to toID, if present.
func (s *Store) Dissociate(ctx context.Context, fromID, toID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	from, err := s.Get(ctx, fromID)
	if err != nil {
		return err
	}
	kept := from.Associations[:0]
	for _, a := range from.Associations {
		if a.TargetID != toID {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(from.Associations) {
		return nil
	}
	from.Associations = kept
	return s.persistence.Put(ctx, from)
}

// Associations resolves the outgoing edges of id. Edges whose target no
// longer exists are omitted.
func (s *Store) Associations(ctx context.Context, id string) ([]Linked, error) {
	from, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	linked := make([]Linked, 0, len(from.Associations))
	for _, a := range from.Associations {
		target, err := s.persistence.Get(ctx, a.TargetID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve association %s -> %s: %w", id, a.TargetID, err)
		}
		linked = append(linked, Linked{Association: a, Entry: target})
	}
	return linked, nil
}
