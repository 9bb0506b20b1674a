package entities

import (
	"strconv"
	"time"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Asset is a non-fungible token held in the registry.
type Asset struct {
	TokenID   int64     `json:"token_id" db:"token_id"`
	Owner     string    `json:"owner" db:"owner"`
	Approved  string    `json:"approved,omitempty" db:"approved"`
	URI       string    `json:"uri" db:"uri"`
	Minter    string    `json:"minter" db:"minter"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var AssetSchema = &interfaces.Schema{
	TableName: "assets",
	Fields: map[string]interfaces.FieldSchema{
		"id":         {Type: "string", PrimaryKey: true},
		"token_id":   {Type: "int64", Unique: true},
		"owner":      {Type: "string"},
		"approved":   {Type: "string", Nullable: true},
		"uri":        {Type: "string", DefaultValue: ""},
		"minter":     {Type: "string"},
		"created_at": {Type: "time"},
		"updated_at": {Type: "time"},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_assets_owner", Columns: []string{"owner"}},
	},
}

func AssetID(tokenID int64) string {
	return strconv.FormatInt(tokenID, 10)
}

func (a Asset) ToRecord() map[string]interface{} {
	record := map[string]interface{}{
		"id":       AssetID(a.TokenID),
		"token_id": a.TokenID,
		"owner":    a.Owner,
		"approved": nil,
		"uri":      a.URI,
		"minter":   a.Minter,
	}
	if a.Approved != "" {
		record["approved"] = a.Approved
	}
	return record
}

func AssetFromRecord(record map[string]interface{}) Asset {
	return Asset{
		TokenID:   int64Field(record, "token_id"),
		Owner:     stringField(record, "owner"),
		Approved:  stringField(record, "approved"),
		URI:       stringField(record, "uri"),
		Minter:    stringField(record, "minter"),
		CreatedAt: timeField(record, "created_at"),
	}
}

// OperatorApproval lets Operator move every asset of Owner.
type OperatorApproval struct {
	Owner    string `json:"owner" db:"owner"`
	Operator string `json:"operator" db:"operator"`
	Approved bool   `json:"approved" db:"approved"`
}

var OperatorSchema = &interfaces.Schema{
	TableName: "operators",
	Fields: map[string]interfaces.FieldSchema{
		"id":         {Type: "string", PrimaryKey: true},
		"owner":      {Type: "string"},
		"operator":   {Type: "string"},
		"approved":   {Type: "bool", DefaultValue: false},
		"created_at": {Type: "time"},
		"updated_at": {Type: "time"},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_operators_owner_operator", Columns: []string{"owner", "operator"}, Unique: true},
	},
}

func OperatorID(owner, operator string) string {
	return owner + ":" + operator
}

func (o OperatorApproval) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":       OperatorID(o.Owner, o.Operator),
		"owner":    o.Owner,
		"operator": o.Operator,
		"approved": o.Approved,
	}
}

func OperatorFromRecord(record map[string]interface{}) OperatorApproval {
	return OperatorApproval{
		Owner:    stringField(record, "owner"),
		Operator: stringField(record, "operator"),
		Approved: boolField(record, "approved"),
	}
}
