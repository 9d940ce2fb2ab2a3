package store

import (
	"database/sql"
	"time"

	"github.com/markus-lassfolk/openclaw-hybrid-memory/internal/ids"
)

// hebbianIncrement is how much a RELATED_TO link's strength grows per
// co-access, and hebbianCap is the ceiling it saturates at (spec.md §4.8).
const (
	hebbianIncrement = 0.05
	hebbianCap       = 1.0
)

// CreateLink inserts a typed, directed edge between two facts. If the edge
// already exists (same from, to, link_type), its strength is left
// untouched; use StrengthenRelated for the Hebbian-reinforcement path.
func (s *Store) CreateLink(fromID, toID ids.ID, linkType LinkType, strength float64) (*MemoryLink, error) {
	link := &MemoryLink{
		ID:        ids.New(),
		FromID:    fromID,
		ToID:      toID,
		LinkType:  linkType,
		Strength:  strength,
		CreatedAt: time.Now().UTC(),
	}
	err := s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR IGNORE INTO memory_links (id, from_id, to_id, link_type, strength, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			link.ID.String(), fromID.String(), toID.String(), string(linkType), strength, link.CreatedAt.UnixMilli())
		return err
	})
	return link, err
}

func scanLink(row interface{ Scan(...any) error }) (*MemoryLink, error) {
	var l MemoryLink
	var id, fromID, toID, linkType string
	var createdAt int64
	if err := row.Scan(&id, &fromID, &toID, &linkType, &l.Strength, &createdAt); err != nil {
		return nil, err
	}
	pid, err := ids.Parse(id)
	if err != nil {
		return nil, err
	}
	fid, err := ids.Parse(fromID)
	if err != nil {
		return nil, err
	}
	tid, err := ids.Parse(toID)
	if err != nil {
		return nil, err
	}
	l.ID = pid
	l.FromID = fid
	l.ToID = tid
	l.LinkType = LinkType(linkType)
	l.CreatedAt = msToTime(createdAt)
	return &l, nil
}

const linkColumns = `id, from_id, to_id, link_type, strength, created_at`

// GetLinksFrom returns every edge originating at id.
func (s *Store) GetLinksFrom(id ids.ID) ([]*MemoryLink, error) {
	return s.queryLinks(`SELECT `+linkColumns+` FROM memory_links WHERE from_id = ?`, id.String())
}

// GetLinksTo returns every edge terminating at id.
func (s *Store) GetLinksTo(id ids.ID) ([]*MemoryLink, error) {
	return s.queryLinks(`SELECT `+linkColumns+` FROM memory_links WHERE to_id = ?`, id.String())
}

func (s *Store) queryLinks(query string, args ...any) ([]*MemoryLink, error) {
	var out []*MemoryLink
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLink(rows)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	return out, err
}

// GetConnectedFactIds performs a breadth-first traversal of the link graph
// out to maxDepth hops (in either direction), returning every reachable
// fact id excluding the start id itself (spec.md §4.8).
func (s *Store) GetConnectedFactIds(start ids.ID, maxDepth int) ([]ids.ID, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	visited := map[string]bool{start.String(): true}
	frontier := []ids.ID{start}
	var order []ids.ID

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []ids.ID
		for _, id := range frontier {
			neighbors, err := s.neighbors(id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				key := n.String()
				if visited[key] {
					continue
				}
				visited[key] = true
				order = append(order, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	return order, nil
}

func (s *Store) neighbors(id ids.ID) ([]ids.ID, error) {
	var out []ids.ID
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`SELECT to_id FROM memory_links WHERE from_id = ?
			UNION SELECT from_id FROM memory_links WHERE to_id = ?`, id.String(), id.String())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			parsed, err := ids.Parse(raw)
			if err != nil {
				continue
			}
			out = append(out, parsed)
		}
		return rows.Err()
	})
	return out, err
}

// StrengthenRelated records co-access of two facts within the same recall,
// creating or reinforcing a symmetric RELATED_TO link between them. The
// pair is canonicalized (lexicographically smaller id first) so the edge
// is stored once regardless of access order, and its strength saturates at
// hebbianCap rather than growing unbounded (spec.md §4.8).
func (s *Store) StrengthenRelated(a, b ids.ID) error {
	if a.String() == b.String() {
		return nil
	}
	from, to := a, b
	if to.String() < from.String() {
		from, to = to, from
	}

	return s.withDB(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var strength float64
		err = tx.QueryRow(`SELECT strength FROM memory_links WHERE from_id = ? AND to_id = ? AND link_type = ?`,
			from.String(), to.String(), string(LinkRelatedTo)).Scan(&strength)

		now := time.Now().UnixMilli()
		if err == sql.ErrNoRows {
			id := ids.New()
			if _, err := tx.Exec(`INSERT INTO memory_links (id, from_id, to_id, link_type, strength, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id.String(), from.String(), to.String(), string(LinkRelatedTo), hebbianIncrement, now); err != nil {
				return err
			}
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		newStrength := strength + hebbianIncrement
		if newStrength > hebbianCap {
			newStrength = hebbianCap
		}
		if _, err := tx.Exec(`UPDATE memory_links SET strength = ? WHERE from_id = ? AND to_id = ? AND link_type = ?`,
			newStrength, from.String(), to.String(), string(LinkRelatedTo)); err != nil {
			return err
		}
		return tx.Commit()
	})
}
