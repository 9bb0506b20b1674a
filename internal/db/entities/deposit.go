package entities

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Deposit records one on-ramp purchase of ledger tokens.
type Deposit struct {
	ID         string          `json:"id" db:"id"`
	Buyer      string          `json:"buyer" db:"buyer"`
	BaseAmount decimal.Decimal `json:"base_amount" db:"base_amount"`
	Tokens     decimal.Decimal `json:"tokens" db:"tokens"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

var DepositSchema = &interfaces.Schema{
	TableName: "deposits",
	Fields: map[string]interfaces.FieldSchema{
		"id":          {Type: "string", PrimaryKey: true},
		"buyer":       {Type: "string"},
		"base_amount": {Type: "string"},
		"tokens":      {Type: "string"},
		"created_at":  {Type: "time"},
		"updated_at":  {Type: "time"},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_deposits_buyer", Columns: []string{"buyer"}},
	},
}

func (d Deposit) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":          d.ID,
		"buyer":       d.Buyer,
		"base_amount": d.BaseAmount.String(),
		"tokens":      d.Tokens.String(),
	}
}

func DepositFromRecord(record map[string]interface{}) (Deposit, error) {
	base, err := decimalField(record, "base_amount")
	if err != nil {
		return Deposit{}, err
	}
	tokens, err := decimalField(record, "tokens")
	if err != nil {
		return Deposit{}, err
	}
	return Deposit{
		ID:         stringField(record, "id"),
		Buyer:      stringField(record, "buyer"),
		BaseAmount: base,
		Tokens:     tokens,
		CreatedAt:  timeField(record, "created_at"),
	}, nil
}
