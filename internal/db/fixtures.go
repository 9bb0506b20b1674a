package db

import (
	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// AllSchemas returns every table of the marketplace state, parents first.
func AllSchemas() []*interfaces.Schema {
	return []*interfaces.Schema{
		entities.BalanceSchema,
		entities.AllowanceSchema,
		entities.AssetSchema,
		entities.OperatorSchema,
		entities.ListingSchema,
		entities.DepositSchema,
	}
}
