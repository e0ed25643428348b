package ledger

import (
	"database/sql"

	"github.com/xiaden/nomarr-sub002/errors"
)

// store persists resource claims. Rows exist only while a claim is live, so
// a crashed holder leaves its rows behind for the sweep to reclaim.
type store struct {
	db *sql.DB
}

func (s *store) insert(c *Claim) error {
	query := `
		INSERT INTO resource_claims (id, class, holder, weight, acquired_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, c.ID, c.Class, c.Holder, c.Weight, c.AcquiredAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert claim")
	}
	return nil
}

// delete removes a claim by ID. Deleting an unknown ID affects zero rows,
// which release treats as a successful no-op.
func (s *store) delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM resource_claims WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete claim")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

func (s *store) deleteByHolder(holder string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM resource_claims WHERE holder = ?`, holder)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete claims for holder %s", holder)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

func (s *store) activeWeight(class string) (int, error) {
	var weight sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(weight) FROM resource_claims WHERE class = ?`, class,
	).Scan(&weight)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to sum claim weights for class %s", class)
	}
	return int(weight.Int64), nil // NULL sum (no rows) reads as 0
}

func (s *store) listByClass(class string) ([]*Claim, error) {
	rows, err := s.db.Query(
		`SELECT id, class, holder, weight, acquired_at
		 FROM resource_claims WHERE class = ? ORDER BY acquired_at, id`, class)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list claims for class %s", class)
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.Class, &c.Holder, &c.Weight, &c.AcquiredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan claim")
		}
		claims = append(claims, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating claims")
	}
	return claims, nil
}
