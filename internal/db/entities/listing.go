package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Listing is the stored form of an active marketplace listing. The record id is the asset id.
type Listing struct {
	AssetID     int64           `json:"asset_id" db:"asset_id"`
	Seller      string          `json:"seller" db:"seller"`
	Recipients  []string        `json:"recipients" db:"recipients"`
	ShareCount  int64           `json:"share_count" db:"share_count"`
	Price       decimal.Decimal `json:"price" db:"price"`
	MarketOwned bool            `json:"market_owned" db:"market_owned"`
	Depositor   string          `json:"depositor,omitempty" db:"depositor"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

var ListingSchema = &interfaces.Schema{
	TableName: "listings",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: "string", PrimaryKey: true},
		"asset_id": {
			Type:       "int64",
			Unique:     true,
			ForeignKey: &interfaces.ForeignKey{Table: "assets", Column: "token_id"},
		},
		"seller":       {Type: "string"},
		"recipients":   {Type: "string", DefaultValue: "[]"},
		"share_count":  {Type: "int64"},
		"price":        {Type: "string"},
		"market_owned": {Type: "bool", DefaultValue: false},
		"depositor":    {Type: "string", Nullable: true},
		"created_at":   {Type: "time"},
		"updated_at":   {Type: "time"},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_listings_seller", Columns: []string{"seller"}},
	},
}

func (l Listing) ToRecord() (map[string]interface{}, error) {
	recipients := l.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	raw, err := json.Marshal(recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	record := map[string]interface{}{
		"id":           AssetID(l.AssetID),
		"asset_id":     l.AssetID,
		"seller":       l.Seller,
		"recipients":   string(raw),
		"share_count":  l.ShareCount,
		"price":        l.Price.String(),
		"market_owned": l.MarketOwned,
		"depositor":    nil,
	}
	if l.Depositor != "" {
		record["depositor"] = l.Depositor
	}
	return record, nil
}

func ListingFromRecord(record map[string]interface{}) (Listing, error) {
	price, err := decimalField(record, "price")
	if err != nil {
		return Listing{}, err
	}
	var recipients []string
	if raw := stringField(record, "recipients"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
			return Listing{}, fmt.Errorf("decode recipients: %w", err)
		}
	}
	return Listing{
		AssetID:     int64Field(record, "asset_id"),
		Seller:      stringField(record, "seller"),
		Recipients:  recipients,
		ShareCount:  int64Field(record, "share_count"),
		Price:       price,
		MarketOwned: boolField(record, "market_owned"),
		Depositor:   stringField(record, "depositor"),
		CreatedAt:   timeField(record, "created_at"),
		UpdatedAt:   timeField(record, "updated_at"),
	}, nil
}
