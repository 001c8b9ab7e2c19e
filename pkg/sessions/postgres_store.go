package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nais/vpn-forwarder/pkg/metrics"
	"github.com/nais/vpn-forwarder/pkg/sessions/schemas"
	"github.com/nais/vpn-forwarder/pkg/types"
)

const duplicateErrorCode = "23505"

var ErrDuplicate = errors.New("session already exists")

// PostgresStore Sessions in PostgreSQL. Row locks taken inside a transaction serialize concurrent refreshes, and a
// per-user advisory lock serializes logins of the same user.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = &PostgresStore{}

// Migrate Bring the session schema up to date.
func Migrate(connString string) error {
	d, err := iofs.New(schemas.FS, ".")
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := migrate.NewWithSourceInstance("iofs", d, connString)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	metrics.SetSchemaVersion(version, dirty)
	return nil
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if err := Migrate(connString); err != nil {
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}

	pool, err := pgxpool.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to session database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const sessionColumns = `id, username, token, target, created_at, last_activity, timeout_minutes, active`

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	var target string
	err := row.Scan(&s.ID, &s.Username, &s.Token, &target, &s.CreatedAt, &s.LastActivity, &s.TimeoutMinutes, &s.Active)
	if err != nil {
		return nil, err
	}
	s.Target = types.TargetID(target)
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastActivity = s.LastActivity.UTC()
	return s, nil
}

func (p *PostgresStore) Create(ctx context.Context, session *Session) error {
	if err := session.validate(); err != nil {
		return err
	}

	err := p.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.Username); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE username = $1`, session.Username); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			session.ID, session.Username, session.Token, session.Target.String(),
			session.CreatedAt, session.LastActivity, session.TimeoutMinutes, session.Active,
		)
		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateErrorCode {
		return fmt.Errorf("%w: %s", ErrDuplicate, session.ID)
	}
	return err
}

func (p *PostgresStore) Touch(ctx context.Context, username, token string, now time.Time) (*Session, error) {
	var found *Session
	err := p.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+sessionColumns+` FROM sessions
			WHERE username = $1 AND token = $2 AND active
			ORDER BY id
			FOR UPDATE`,
			username, token,
		)
		if err != nil {
			return err
		}

		candidates := make([]*Session, 0)
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range candidates {
			if !s.Valid(now) {
				if _, err := tx.Exec(ctx, `UPDATE sessions SET active = false WHERE id = $1`, s.ID); err != nil {
					return err
				}
				continue
			}

			if _, err := tx.Exec(ctx, `UPDATE sessions SET last_activity = $1 WHERE id = $2`, now, s.ID); err != nil {
				return err
			}
			s.LastActivity = now.UTC()
			found = s
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, rows.Err()
}

func (p *PostgresStore) Purge(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM sessions
		WHERE NOT active OR last_activity + timeout_minutes * interval '1 minute' < $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) UserTarget(ctx context.Context, username string, now time.Time) (types.TargetID, error) {
	var target string
	err := p.pool.QueryRow(ctx, `SELECT target FROM user_mappings WHERE username = $1`, username).Scan(&target)
	if err == nil && target != "" {
		return types.TargetID(target), nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	err = p.pool.QueryRow(ctx,
		`SELECT target FROM sessions
		WHERE username = $1 AND active AND target <> ''
		AND last_activity + timeout_minutes * interval '1 minute' >= $2
		ORDER BY id
		LIMIT 1`,
		username, now,
	).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return types.TargetID(target), nil
}

func (p *PostgresStore) SetUserTarget(ctx context.Context, username string, target types.TargetID) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_mappings (username, target) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET target = EXCLUDED.target`,
		username, target.String(),
	)
	return err
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
