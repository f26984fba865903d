package store

import (
	"fmt"
	"strings"
	"time"
)

type Operator struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func scanOperator(row interface{ Scan(...any) error }) (*Operator, error) {
	var o Operator
	var createdAt any
	if err := row.Scan(&o.ID, &o.Email, &o.Name, &o.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	return &o, nil
}

func (db *DB) CreateOperator(email, name, passwordHash string) (*Operator, error) {
	o := &Operator{Email: strings.ToLower(strings.TrimSpace(email)), Name: name, PasswordHash: passwordHash, CreatedAt: db.now().UTC()}
	err := db.QueryRow(db.Q(`INSERT INTO operators (email, name, password_hash, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		o.Email, o.Name, o.PasswordHash, db.ts(o.CreatedAt)).Scan(&o.ID)
	if err != nil {
		return nil, fmt.Errorf("create operator: %w", err)
	}
	return o, nil
}

func (db *DB) GetOperatorByEmail(email string) (*Operator, error) {
	o, err := scanOperator(db.QueryRow(db.Q(`SELECT id, email, name, password_hash, created_at FROM operators WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return nil, notFound(err, "operator "+email)
	}
	return o, nil
}

func (db *DB) GetOperator(id int64) (*Operator, error) {
	o, err := scanOperator(db.QueryRow(db.Q(`SELECT id, email, name, password_hash, created_at FROM operators WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("operator %d", id))
	}
	return o, nil
}
