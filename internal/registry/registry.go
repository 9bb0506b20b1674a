// Package registry tracks ownership of non-fungible assets and their transfer approvals.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/db"
	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

var (
	ErrNonexistentAsset = errors.New("nonexistent asset")
	ErrNotAuthorized    = errors.New("caller is not owner nor approved")
	ErrWrongFrom        = errors.New("transfer from incorrect owner")
	ErrZeroAddress      = errors.New("zero address")
	ErrNotMinter        = errors.New("caller is not the minter")
	ErrSelfApproval     = errors.New("approval to current owner")
)

// Asset is the public view of one registry entry.
type Asset struct {
	ID       int64           `json:"id"`
	Owner    address.Address `json:"owner"`
	Approved address.Address `json:"approved,omitempty"`
	URI      string          `json:"uri"`
}

// Registry implements mint, ownership and approval semantics of a standard
// non-fungible token registry over the shared state store.
type Registry struct {
	exec      *db.Executor
	assets    interfaces.Repository
	operators interfaces.Repository
	minter    address.Address
	logger    *zap.SugaredLogger
}

// New creates a registry. When minter is zero anyone may mint.
func New(exec *db.Executor, minter address.Address, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		exec:      exec,
		assets:    exec.Database().Repository(entities.AssetSchema),
		operators: exec.Database().Repository(entities.OperatorSchema),
		minter:    minter,
		logger:    logger,
	}
}

// Mint creates a new asset owned by to and returns its id. Ids start at 1.
func (r *Registry) Mint(ctx context.Context, caller, to address.Address, uri string) (int64, error) {
	if !r.minter.IsZero() && caller != r.minter {
		return 0, fmt.Errorf("mint by %s: %w", caller, ErrNotMinter)
	}
	if to.IsZero() {
		return 0, fmt.Errorf("mint: %w", ErrZeroAddress)
	}

	var id int64
	err := r.exec.Atomic(ctx, func(ctx context.Context) error {
		count, err := r.assets.Count(ctx, nil)
		if err != nil {
			return fmt.Errorf("count assets: %w", err)
		}
		id = count + 1
		asset := entities.Asset{TokenID: id, Owner: to.String(), URI: strings.TrimSpace(uri), Minter: caller.String()}
		if _, err := r.assets.Create(ctx, asset.ToRecord()); err != nil {
			return fmt.Errorf("store asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Infow("Minted asset", "asset_id", id, "owner", to, "uri", uri)
	return id, nil
}

func (r *Registry) Asset(ctx context.Context, id int64) (Asset, error) {
	var out Asset
	err := r.exec.View(ctx, func(ctx context.Context) error {
		a, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		out = toAsset(a)
		return nil
	})
	return out, err
}

func (r *Registry) OwnerOf(ctx context.Context, id int64) (address.Address, error) {
	a, err := r.Asset(ctx, id)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

func (r *Registry) TokenURI(ctx context.Context, id int64) (string, error) {
	a, err := r.Asset(ctx, id)
	if err != nil {
		return "", err
	}
	return a.URI, nil
}

func (r *Registry) GetApproved(ctx context.Context, id int64) (address.Address, error) {
	a, err := r.Asset(ctx, id)
	if err != nil {
		return "", err
	}
	return a.Approved, nil
}

// AssetsOf lists the assets owned by owner in id order.
func (r *Registry) AssetsOf(ctx context.Context, owner address.Address) ([]Asset, error) {
	var out []Asset
	err := r.exec.View(ctx, func(ctx context.Context) error {
		page, err := r.assets.FindMany(ctx, &interfaces.Query{
			Where:   interfaces.Where(map[string]interface{}{"owner": owner.String()}),
			OrderBy: []interfaces.OrderBy{{Field: "token_id", Direction: "asc"}},
		})
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}
		out = make([]Asset, 0, len(page.Data))
		for _, record := range page.Data {
			out = append(out, toAsset(entities.AssetFromRecord(record)))
		}
		return nil
	})
	return out, err
}

func (r *Registry) BalanceOf(ctx context.Context, owner address.Address) (int64, error) {
	if owner.IsZero() {
		return 0, fmt.Errorf("balance query: %w", ErrZeroAddress)
	}
	var n int64
	err := r.exec.View(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.assets.Count(ctx, &interfaces.Query{
			Where: interfaces.Where(map[string]interface{}{"owner": owner.String()}),
		})
		return err
	})
	return n, err
}

// Approve grants to the right to transfer asset id. Passing the zero address clears it.
func (r *Registry) Approve(ctx context.Context, caller, to address.Address, id int64) error {
	return r.exec.Atomic(ctx, func(ctx context.Context) error {
		a, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		owner := address.Address(a.Owner)
		if to == owner {
			return fmt.Errorf("approve asset %d: %w", id, ErrSelfApproval)
		}
		if caller != owner {
			ok, err := r.isApprovedForAll(ctx, owner, caller)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("approve asset %d by %s: %w", id, caller, ErrNotAuthorized)
			}
		}
		a.Approved = ""
		if !to.IsZero() {
			a.Approved = to.String()
		}
		return r.store(ctx, a)
	})
}

func (r *Registry) SetApprovalForAll(ctx context.Context, owner, operator address.Address, approved bool) error {
	if operator == owner {
		return fmt.Errorf("operator approval: %w", ErrSelfApproval)
	}
	if operator.IsZero() {
		return fmt.Errorf("operator approval: %w", ErrZeroAddress)
	}
	return r.exec.Atomic(ctx, func(ctx context.Context) error {
		record := entities.OperatorApproval{Owner: owner.String(), Operator: operator.String(), Approved: approved}.ToRecord()
		id := interfaces.StringID(entities.OperatorID(owner.String(), operator.String()))
		if _, err := r.operators.Update(ctx, id, record); err != nil {
			if !errors.Is(err, interfaces.ErrNotFound) {
				return fmt.Errorf("store operator approval: %w", err)
			}
			if _, err := r.operators.Create(ctx, record); err != nil {
				return fmt.Errorf("store operator approval: %w", err)
			}
		}
		return nil
	})
}

func (r *Registry) IsApprovedForAll(ctx context.Context, owner, operator address.Address) (bool, error) {
	var ok bool
	err := r.exec.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = r.isApprovedForAll(ctx, owner, operator)
		return err
	})
	return ok, err
}

// CanTransfer reports whether spender may move asset id: as its owner, its
// approved address, or an operator of its owner.
func (r *Registry) CanTransfer(ctx context.Context, spender address.Address, id int64) (bool, error) {
	var ok bool
	err := r.exec.View(ctx, func(ctx context.Context) error {
		a, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		ok, err = r.canTransfer(ctx, spender, a)
		return err
	})
	return ok, err
}

// TransferFrom moves asset id from from to to. The caller must be allowed to
// transfer it and from must be its current owner. Any per-asset approval is cleared.
func (r *Registry) TransferFrom(ctx context.Context, caller, from, to address.Address, id int64) error {
	if to.IsZero() {
		return fmt.Errorf("transfer asset %d: %w", id, ErrZeroAddress)
	}
	return r.exec.Atomic(ctx, func(ctx context.Context) error {
		a, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		if address.Address(a.Owner) != from {
			return fmt.Errorf("transfer asset %d from %s: %w", id, from, ErrWrongFrom)
		}
		ok, err := r.canTransfer(ctx, caller, a)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("transfer asset %d by %s: %w", id, caller, ErrNotAuthorized)
		}
		a.Owner = to.String()
		a.Approved = ""
		if err := r.store(ctx, a); err != nil {
			return err
		}
		r.logger.Debugw("Transferred asset", "asset_id", id, "from", from, "to", to)
		return nil
	})
}

func (r *Registry) canTransfer(ctx context.Context, spender address.Address, a entities.Asset) (bool, error) {
	owner := address.Address(a.Owner)
	if spender == owner || (a.Approved != "" && spender == address.Address(a.Approved)) {
		return true, nil
	}
	return r.isApprovedForAll(ctx, owner, spender)
}

func (r *Registry) isApprovedForAll(ctx context.Context, owner, operator address.Address) (bool, error) {
	record, err := r.operators.GetByID(ctx, interfaces.StringID(entities.OperatorID(owner.String(), operator.String())))
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load operator approval: %w", err)
	}
	return entities.OperatorFromRecord(record).Approved, nil
}

func (r *Registry) load(ctx context.Context, id int64) (entities.Asset, error) {
	record, err := r.assets.GetByID(ctx, interfaces.IntID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return entities.Asset{}, fmt.Errorf("asset %d: %w", id, ErrNonexistentAsset)
	}
	if err != nil {
		return entities.Asset{}, fmt.Errorf("load asset %d: %w", id, err)
	}
	return entities.AssetFromRecord(record), nil
}

func (r *Registry) store(ctx context.Context, a entities.Asset) error {
	if _, err := r.assets.Update(ctx, interfaces.IntID(a.TokenID), a.ToRecord()); err != nil {
		return fmt.Errorf("store asset %d: %w", a.TokenID, err)
	}
	return nil
}

func toAsset(a entities.Asset) Asset {
	return Asset{
		ID:       a.TokenID,
		Owner:    address.Address(a.Owner),
		Approved: address.Address(a.Approved),
		URI:      a.URI,
	}
}
