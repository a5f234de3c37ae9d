package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pokevault/pokevault/internal/schema"
)

// listPage mirrors the catalog list endpoint response:
// GET /{collection}?limit=N&offset=M -> {"results":[{"name":...,"url":...}]}
type listPage struct {
	Results []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"results"`
}

// pull fetches the next bounded window of the remote collection and
// enriches each record with a detail fetch. A detail-fetch failure for
// one record degrades that record to a minimal stub rather than aborting
// the whole pull; only a failure of the list request itself is fatal to
// the cycle.
//
// Returns the snapshot and the cursor the next cycle should start from.
// The cursor wraps to 0 when a short page signals the end of the
// collection.
func (s *syncer) pull(ctx context.Context) ([]*schema.Entity, int, error) {
	offset, err := s.store.SyncCursor(ctx, s.cfg.Collection)
	if err != nil {
		return nil, 0, err
	}

	path := fmt.Sprintf("%s?limit=%d&offset=%d", s.cfg.CatalogPath, s.cfg.PageLimit, offset)
	raw, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, 0, err
	}

	var page listPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, 0, fmt.Errorf("failed to parse catalog page: %w", err)
	}

	fetchedAt := s.now().UnixMilli()
	snapshot := make([]*schema.Entity, 0, len(page.Results))
	for _, res := range page.Results {
		e, err := s.fetchDetail(ctx, res.Name, fetchedAt)
		if err != nil {
			s.logger.Printf("Warning: degrading %s to stub: %v", res.Name, err)
			e = &schema.Entity{
				ID:        res.Name,
				Name:      res.Name,
				UpdatedAt: fetchedAt,
				IsSynced:  true,
			}
		}
		snapshot = append(snapshot, e)
	}

	next := offset + len(page.Results)
	if len(page.Results) < s.cfg.PageLimit {
		next = 0
	}

	s.logger.Printf("Pulled %d records at offset %d", len(snapshot), offset)
	return snapshot, next, nil
}

// fetchDetail fetches one record and folds it into an Entity. The
// engine-owned fields (id, name, notes, updatedAt) are extracted; every
// other field is carried opaquely in Attrs.
func (s *syncer) fetchDetail(ctx context.Context, name string, fetchedAt int64) (*schema.Entity, error) {
	raw, err := s.client.Get(ctx, s.cfg.CatalogPath+"/"+name)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to parse detail for %s: %w", name, err)
	}

	e := &schema.Entity{
		ID:        name,
		Name:      name,
		UpdatedAt: fetchedAt,
		IsSynced:  true,
	}

	if id, ok := fields["id"].(json.Number); ok {
		e.ID = id.String()
	} else if id, ok := fields["id"].(string); ok && id != "" {
		e.ID = id
	}
	if n, ok := fields["name"].(string); ok && n != "" {
		e.Name = n
	}
	if notes, ok := fields["notes"].(string); ok {
		e.Notes = notes
	}
	// Records carrying their own modification time keep it; otherwise
	// the snapshot timestamp is the fetch time.
	if ts, ok := fields["updatedAt"].(json.Number); ok {
		if v, err := ts.Int64(); err == nil {
			e.UpdatedAt = v
		}
	}

	delete(fields, "id")
	delete(fields, "name")
	delete(fields, "notes")
	delete(fields, "updatedAt")
	delete(fields, "isSynced")

	if len(fields) > 0 {
		attrs, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attrs for %s: %w", name, err)
		}
		e.Attrs = attrs
	}

	return e, nil
}
