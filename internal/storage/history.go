package storage

import (
	"context"
)

// StoreTag records a tag interaction at the current time.
func (s *Store) StoreTag(ctx context.Context, tag, typ, anchor string) (Tag, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (tag, type, anchor, timestamp) VALUES (?, ?, ?, ?)`,
		tag, typ, anchor, millis(now),
	)
	if err != nil {
		return Tag{}, wrapErr("store tag", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tag{}, wrapErr("store tag", err)
	}
	return Tag{ID: id, Tag: tag, Type: typ, Anchor: anchor, Timestamp: fromMillis(millis(now))}, nil
}

// ListTags returns every recorded tag, newest first.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	return s.queryTags(ctx, "list tags", `SELECT id, tag, type, anchor, timestamp FROM tags ORDER BY timestamp DESC, id DESC`)
}

// RecentTags returns the k most recent tags, newest first. k <= 0 returns none.
func (s *Store) RecentTags(ctx context.Context, k int) ([]Tag, error) {
	if k <= 0 {
		return []Tag{}, nil
	}
	return s.queryTags(ctx, "recent tags",
		`SELECT id, tag, type, anchor, timestamp FROM tags ORDER BY timestamp DESC, id DESC LIMIT ?`, k)
}

// ClearTags deletes the whole tag history.
func (s *Store) ClearTags(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags`)
	return wrapErr("clear tags", err)
}

func (s *Store) queryTags(ctx context.Context, op, query string, args ...any) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := []Tag{}
	for rows.Next() {
		var t Tag
		var ts int64
		if err := rows.Scan(&t.ID, &t.Tag, &t.Type, &t.Anchor, &ts); err != nil {
			return nil, wrapErr(op, err)
		}
		t.Timestamp = fromMillis(ts)
		out = append(out, t)
	}
	return out, wrapErr(op, rows.Err())
}

// StoreSearch records a submitted search query at the current time.
func (s *Store) StoreSearch(ctx context.Context, query string) (Search, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO searches (query, timestamp) VALUES (?, ?)`, query, millis(now))
	if err != nil {
		return Search{}, wrapErr("store search", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Search{}, wrapErr("store search", err)
	}
	return Search{ID: id, Query: query, Timestamp: fromMillis(millis(now))}, nil
}

// ListSearches returns every recorded search, newest first.
func (s *Store) ListSearches(ctx context.Context) ([]Search, error) {
	return s.querySearches(ctx, "list searches", `SELECT id, query, timestamp FROM searches ORDER BY timestamp DESC, id DESC`)
}

// RecentSearches returns the k most recent searches, newest first.
func (s *Store) RecentSearches(ctx context.Context, k int) ([]Search, error) {
	if k <= 0 {
		return []Search{}, nil
	}
	return s.querySearches(ctx, "recent searches",
		`SELECT id, query, timestamp FROM searches ORDER BY timestamp DESC, id DESC LIMIT ?`, k)
}

// ClearSearches deletes the whole search history.
func (s *Store) ClearSearches(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM searches`)
	return wrapErr("clear searches", err)
}

func (s *Store) querySearches(ctx context.Context, op, query string, args ...any) ([]Search, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := []Search{}
	for rows.Next() {
		var sr Search
		var ts int64
		if err := rows.Scan(&sr.ID, &sr.Query, &ts); err != nil {
			return nil, wrapErr(op, err)
		}
		sr.Timestamp = fromMillis(ts)
		out = append(out, sr)
	}
	return out, wrapErr(op, rows.Err())
}
