package quota

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

const maxReserveAttempts = 8

// SQLStore keeps usage in the outreach_usage table. Reserve is a
// compare-and-set loop on the stored counter, so concurrent callers never
// push it past the limit.
type SQLStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db, Now: time.Now}
}

func dayKey(day time.Time) string {
	return Day(day).Format("2006-01-02")
}

func (s *SQLStore) Used(ctx context.Context, callerID string, day time.Time) (int, error) {
	var used int
	err := s.DB.QueryRowContext(ctx,
		`SELECT used FROM outreach_usage WHERE caller_id = $1 AND day = $2`,
		callerID, dayKey(day),
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "select usage")
	}
	return used, nil
}

func (s *SQLStore) Reserve(ctx context.Context, callerID string, day time.Time, want, limit int) (int, int, error) {
	key := dayKey(day)
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO outreach_usage (caller_id, day, used, updated_at) VALUES ($1, $2, 0, $3)
		 ON CONFLICT (caller_id, day) DO NOTHING`,
		callerID, key, s.Now().UTC(),
	); err != nil {
		return 0, 0, eris.Wrap(err, "ensure usage row")
	}

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		used, err := s.Used(ctx, callerID, day)
		if err != nil {
			return 0, 0, err
		}
		granted := clamp(want, limit, used)
		if granted == 0 {
			return 0, used, nil
		}
		res, err := s.DB.ExecContext(ctx,
			`UPDATE outreach_usage SET used = used + $1, updated_at = $2
			 WHERE caller_id = $3 AND day = $4 AND used = $5`,
			granted, s.Now().UTC(), callerID, key, used,
		)
		if err != nil {
			return 0, 0, eris.Wrap(err, "update usage")
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return granted, used + granted, nil
		}
	}
	return 0, 0, eris.Errorf("usage counter for %s contended after %d attempts", callerID, maxReserveAttempts)
}

func (s *SQLStore) Release(ctx context.Context, callerID string, day time.Time, n int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE outreach_usage SET used = CASE WHEN used > $1 THEN used - $1 ELSE 0 END, updated_at = $2
		 WHERE caller_id = $3 AND day = $4`,
		n, s.Now().UTC(), callerID, dayKey(day),
	)
	return eris.Wrap(err, "release usage")
}
