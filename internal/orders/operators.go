package orders

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPIN = errors.New("operator PIN rejected")

type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OperatorRepository stores operators with bcrypt-hashed PINs. A register
// sends only the PIN, so authentication compares it against every active
// operator.
type OperatorRepository struct {
	db *sql.DB
}

func NewOperatorRepository(db *sql.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

func (r *OperatorRepository) Create(ctx context.Context, name, pin string) (Operator, error) {
	name = strings.TrimSpace(name)
	if name == "" || pin == "" {
		return Operator{}, errors.New("operator name and PIN are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return Operator{}, err
	}

	op := Operator{ID: uuid.New().String(), Name: name}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders.operators (id, name, pin_hash)
		VALUES ($1, $2, $3)
	`, op.ID, op.Name, string(hash))
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}

func (r *OperatorRepository) Authenticate(ctx context.Context, pin string) (Operator, error) {
	if pin == "" {
		return Operator{}, ErrInvalidPIN
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, pin_hash
		FROM orders.operators
		WHERE active
		ORDER BY created_at
	`)
	if err != nil {
		return Operator{}, err
	}
	defer func() { _ = rows.Close() }()

	var candidates []credential
	for rows.Next() {
		var c credential
		if err := rows.Scan(&c.operator.ID, &c.operator.Name, &c.hash); err != nil {
			return Operator{}, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return Operator{}, err
	}

	return matchPIN(candidates, pin)
}

type credential struct {
	operator Operator
	hash     string
}

func matchPIN(candidates []credential, pin string) (Operator, error) {
	for _, c := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(c.hash), []byte(pin)) == nil {
			return c.operator, nil
		}
	}
	return Operator{}, ErrInvalidPIN
}
