package model

type Customer struct {
	ID        int      `db:"id" json:"id"`
	AccountID int      `db:"account_id" json:"account_id"`
	Name      string   `db:"name" json:"name"`
	Phone     string   `db:"phone" json:"phone"`
	Tags      []string `db:"tags" json:"tags"`
	IsGroup   bool     `db:"is_group" json:"is_group"`
}
