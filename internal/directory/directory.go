// Package directory exposes the read-only lookups the ledgers consume from
// the rest of the back office: patients and payment methods.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Patient is the contact view of a registered patient.
type Patient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// PaymentMethod is a registered way of paying.
type PaymentMethod struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var (
	// ErrPatientNotFound indicates an unknown patient id.
	ErrPatientNotFound = shared.NewKindError("directory: patient not found", shared.ErrRejected)
	// ErrPaymentMethodNotFound indicates an unknown payment method id.
	ErrPaymentMethodNotFound = shared.NewKindError("directory: payment method not found", shared.ErrRejected)
)

// Lookup resolves ids into names for the orchestrators.
type Lookup interface {
	Patient(ctx context.Context, id int64) (Patient, error)
	PaymentMethod(ctx context.Context, id int64) (PaymentMethod, error)
}

// Repository reads the directory tables in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Patient loads a patient contact.
func (r *Repository) Patient(ctx context.Context, id int64) (Patient, error) {
	p := Patient{ID: id}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT name, COALESCE(phone,''), COALESCE(email,'') FROM patients WHERE id=$1`, id).
		Scan(&p.Name, &p.Phone, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, fmt.Errorf("%w: %d", ErrPatientNotFound, id)
	}
	return p, err
}

// PaymentMethod loads a payment method.
func (r *Repository) PaymentMethod(ctx context.Context, id int64) (PaymentMethod, error) {
	m := PaymentMethod{ID: id}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT name FROM payment_methods WHERE id=$1`, id).Scan(&m.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentMethod{}, fmt.Errorf("%w: %d", ErrPaymentMethodNotFound, id)
	}
	return m, err
}
