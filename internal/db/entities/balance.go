package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Balance is one account's fungible token balance. The record id is the address.
type Balance struct {
	Address   string          `json:"address" db:"address"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

var BalanceSchema = &interfaces.Schema{
	TableName: "balances",
	Fields: map[string]interfaces.FieldSchema{
		"id":         {Type: "string", PrimaryKey: true},
		"address":    {Type: "string", Unique: true},
		"amount":     {Type: "string"},
		"created_at": {Type: "time"},
		"updated_at": {Type: "time"},
	},
}

func (b Balance) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":      b.Address,
		"address": b.Address,
		"amount":  b.Amount.String(),
	}
}

func BalanceFromRecord(record map[string]interface{}) (Balance, error) {
	amount, err := decimalField(record, "amount")
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Address:   stringField(record, "address"),
		Amount:    amount,
		UpdatedAt: timeField(record, "updated_at"),
	}, nil
}

// Allowance is the amount Spender may move out of Owner's balance.
type Allowance struct {
	Owner   string          `json:"owner" db:"owner"`
	Spender string          `json:"spender" db:"spender"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
}

var AllowanceSchema = &interfaces.Schema{
	TableName: "allowances",
	Fields: map[string]interfaces.FieldSchema{
		"id":         {Type: "string", PrimaryKey: true},
		"owner":      {Type: "string"},
		"spender":    {Type: "string"},
		"amount":     {Type: "string"},
		"created_at": {Type: "time"},
		"updated_at": {Type: "time"},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_allowances_owner_spender", Columns: []string{"owner", "spender"}, Unique: true},
	},
}

// AllowanceID is the record id of the (owner, spender) pair.
func AllowanceID(owner, spender string) string {
	return owner + ":" + spender
}

func (a Allowance) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":      AllowanceID(a.Owner, a.Spender),
		"owner":   a.Owner,
		"spender": a.Spender,
		"amount":  a.Amount.String(),
	}
}

func AllowanceFromRecord(record map[string]interface{}) (Allowance, error) {
	amount, err := decimalField(record, "amount")
	if err != nil {
		return Allowance{}, err
	}
	return Allowance{
		Owner:   stringField(record, "owner"),
		Spender: stringField(record, "spender"),
		Amount:  amount,
	}, nil
}

func stringField(record map[string]interface{}, field string) string {
	s, _ := record[field].(string)
	return s
}

func int64Field(record map[string]interface{}, field string) int64 {
	n, _ := record[field].(int64)
	return n
}

func boolField(record map[string]interface{}, field string) bool {
	b, _ := record[field].(bool)
	return b
}

func timeField(record map[string]interface{}, field string) time.Time {
	t, _ := record[field].(time.Time)
	return t
}

func decimalField(record map[string]interface{}, field string) (decimal.Decimal, error) {
	raw, ok := record[field].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("field '%s' missing", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field '%s': %w", field, err)
	}
	return d, nil
}
