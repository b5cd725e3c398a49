package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies it
// in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores contacts in Postgres via pgx.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a contact repository backed by the supplied pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("crm: pgx pool cannot be nil")
	}
	return &PostgresRepository{db: db}
}

const contactColumns = "id, name, phone, document, code, created_at"

// GetByPhone returns the contact stored under the exact phone value.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Contact, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE phone = $1", phone)
	return scanContact(row)
}

// GetByDocument returns the contact stored under an identity-document number.
func (r *PostgresRepository) GetByDocument(ctx context.Context, document string) (*Contact, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE document = $1", document)
	return scanContact(row)
}

// Upsert creates or refreshes a contact record keyed by phone.
func (r *PostgresRepository) Upsert(ctx context.Context, contact *Contact) error {
	if contact == nil {
		return errors.New("crm: contact cannot be nil")
	}
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO contacts (id, name, phone, document, code)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (phone) DO UPDATE
		SET name = EXCLUDED.name, document = EXCLUDED.document, code = EXCLUDED.code`,
		contact.ID, contact.Name, contact.Phone, contact.Document, contact.Code)
	if err != nil {
		return fmt.Errorf("crm: failed to upsert contact: %w", err)
	}
	return nil
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Document, &c.Code, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("crm: failed to scan contact: %w", err)
	}
	c.Classification = ClassifyCode(c.Code)
	return &c, nil
}
