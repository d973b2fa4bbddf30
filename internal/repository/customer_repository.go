package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/convoreach/backend/internal/model"
)

type CustomerRepositoryInterface interface {
	GetByID(id int) (*model.Customer, error)
	FindTargets(accountID int, tags []string) ([]model.Customer, error)
}

type CustomerRepository struct {
	DB *sql.DB
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)

// GetByID fetches a customer by ID; a missing customer yields (nil, nil).
func (r *CustomerRepository) GetByID(id int) (*model.Customer, error) {
	query := `
		SELECT id, account_id, name, phone, tags, is_group
		FROM customers
		WHERE id = $1
	`
	var c model.Customer
	err := r.DB.QueryRow(query, id).Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Phone, pq.Array(&c.Tags), &c.IsGroup,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// FindTargets resolves a campaign's recipient list. An empty tag set selects
// every non-group customer of the account; otherwise customers matching ANY of
// the tags are selected (OR semantics, via the array-overlap operator).
func (r *CustomerRepository) FindTargets(accountID int, tags []string) ([]model.Customer, error) {
	query := `
		SELECT id, account_id, name, phone, tags, is_group
		FROM customers
		WHERE account_id = $1 AND is_group = false
	`
	args := []any{accountID}
	if len(tags) > 0 {
		query += ` AND tags && $2`
		args = append(args, pq.Array(tags))
	}
	query += ` ORDER BY id`

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Phone, pq.Array(&c.Tags), &c.IsGroup); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
