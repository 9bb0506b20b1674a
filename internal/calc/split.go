package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidShareCount = errors.New("share count must be positive and cover every recipient")

// Split is how a sale price divides between royalty recipients and the seller.
type Split struct {
	// Share is paid to each recipient.
	Share decimal.Decimal `json:"share"`
	// Remainder is the rounding left over by the floor division.
	Remainder decimal.Decimal `json:"remainder"`
	// SellerAmount is the unclaimed shares plus Remainder.
	SellerAmount decimal.Decimal `json:"seller_amount"`
	Recipients   int             `json:"recipients"`
}

// SplitPayout divides price into shareCount equal shares using floor division.
// Each of the recipients takes one share and the seller takes the rest,
// including the remainder, so that Recipients*Share + SellerAmount == price.
func SplitPayout(price decimal.Decimal, shareCount int64, recipients int) (Split, error) {
	if err := ValidateTokenAmount(price, "price"); err != nil {
		return Split{}, err
	}
	if shareCount <= 0 || recipients < 0 || int64(recipients) > shareCount {
		return Split{}, fmt.Errorf("%w: %d shares for %d recipients", ErrInvalidShareCount, shareCount, recipients)
	}

	count := decimal.NewFromInt(shareCount)
	share, remainder := price.QuoRem(count, 0)
	unclaimed := decimal.NewFromInt(shareCount - int64(recipients))

	split := Split{
		Share:        share,
		Remainder:    remainder,
		SellerAmount: share.Mul(unclaimed).Add(remainder),
		Recipients:   recipients,
	}
	if !split.Total().Equal(price) {
		return Split{}, fmt.Errorf("split of %s does not balance: %s", price, split.Total())
	}
	return split, nil
}

// Total is the sum of every payout in the split.
func (s Split) Total() decimal.Decimal {
	return s.Share.Mul(decimal.NewFromInt(int64(s.Recipients))).Add(s.SellerAmount)
}
