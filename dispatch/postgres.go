package dispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// DB is the subset of *pgxpool.Pool that PostgresStore uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the tables for PostgresStore.
const Schema = `
create table if not exists profiles (
	id             text    primary key,
	smtp_address   text    not null,
	tls            boolean not null default false,
	username       text    not null default '',
	password       text    not null default '',
	email_address  text    not null,
	name           text    not null default ''
);

create table if not exists notifications (
	id             text        primary key,
	message_id     text        not null,
	status         text        not null,
	summary        text        not null default '',
	detail         text        not null default '',
	sender_profile text        not null,
	mail_to        text        not null,
	subject        text        not null,
	content_type   text        not null,
	body           text        not null,
	created_at     timestamptz not null,
	updated_at     timestamptz not null
);

create index if not exists notifications_pending on notifications (created_at) where status = 'pending';
`

const notificationColumns = `id, message_id, status, summary, detail, sender_profile,
	mail_to, subject, content_type, body, created_at, updated_at`

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new store; use Migrate to create the tables.
func NewPostgresStore(db DB) *PostgresStore { return &PostgresStore{db: db} }

// ConnectPostgres creates a connection pool and checks that the database is
// reachable.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "dispatch.ConnectPostgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "dispatch.ConnectPostgres")
	}
	return pool, nil
}

// Migrate creates the tables if they don't exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return errors.Wrap(err, "dispatch.PostgresStore.Migrate")
}

func (s *PostgresStore) AddProfile(ctx context.Context, p Profile) error {
	_, err := s.db.Exec(ctx, `insert into profiles
		(id, smtp_address, tls, username, password, email_address, name)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SMTPAddress, p.TLS, p.Username, p.Password, p.EmailAddress, p.Name)
	return errors.Wrap(err, "dispatch.PostgresStore.AddProfile")
}

func (s *PostgresStore) Profile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `select id, smtp_address, tls, username, password, email_address, name
		from profiles where id = $1`, id).
		Scan(&p.ID, &p.SMTPAddress, &p.TLS, &p.Username, &p.Password, &p.EmailAddress, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNoRecord
	}
	if err != nil {
		return Profile{}, errors.Wrap(err, "dispatch.PostgresStore.Profile")
	}
	return p, nil
}

func (s *PostgresStore) AddNotification(ctx context.Context, n Notification) error {
	_, err := s.db.Exec(ctx, `insert into notifications (`+notificationColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.MessageID, string(n.State.Status), n.State.Summary, n.State.Detail, n.SenderProfile,
		n.Mail.To, n.Mail.Subject, n.Mail.ContentType, n.Mail.Body, n.CreatedAt, n.UpdatedAt)
	return errors.Wrap(err, "dispatch.PostgresStore.AddNotification")
}

func (s *PostgresStore) Notification(ctx context.Context, id string) (Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`select `+notificationColumns+` from notifications where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNoRecord
	}
	if err != nil {
		return Notification{}, errors.Wrap(err, "dispatch.PostgresStore.Notification")
	}
	return n, nil
}

func (s *PostgresStore) Notifications(ctx context.Context) ([]Notification, error) {
	rows, err := s.db.Query(ctx, `select `+notificationColumns+` from notifications order by created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "dispatch.PostgresStore.Notifications")
	}
	defer rows.Close()

	var list []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "dispatch.PostgresStore.Notifications")
		}
		list = append(list, n)
	}
	return list, errors.Wrap(rows.Err(), "dispatch.PostgresStore.Notifications")
}

func (s *PostgresStore) ClaimPending(ctx context.Context) (Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx, `
		update notifications set status = 'sending', summary = '', detail = '', updated_at = $1
		where id = (
			select id from notifications where status = 'pending'
			order by created_at limit 1
			for update skip locked
		)
		returning `+notificationColumns, now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, ErrNoRecord
	}
	if err != nil {
		return Notification{}, errors.Wrap(err, "dispatch.PostgresStore.ClaimPending")
	}
	return n, nil
}

func (s *PostgresStore) UpdateNotification(ctx context.Context, n Notification) error {
	tag, err := s.db.Exec(ctx, `update notifications
		set status = $2, summary = $3, detail = $4, updated_at = $5
		where id = $1`,
		n.ID, string(n.State.Status), n.State.Summary, n.State.Detail, now())
	if err != nil {
		return errors.Wrap(err, "dispatch.PostgresStore.UpdateNotification")
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n      Notification
		status string
	)
	err := row.Scan(&n.ID, &n.MessageID, &status, &n.State.Summary, &n.State.Detail, &n.SenderProfile,
		&n.Mail.To, &n.Mail.Subject, &n.Mail.ContentType, &n.Mail.Body, &n.CreatedAt, &n.UpdatedAt)
	n.State.Status = Status(status)
	return n, err
}
