package treasury

import (
	fpmath "RebalancePool/internal/math"
	"RebalancePool/internal/state"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RateWrapper swaps src for dst at a fixed rate (dst per src, 1e18 fixed
// point), holding dst in its own reserve.
type RateWrapper struct {
	address common.Address
	src     state.Token
	dst     state.Token
	rate    *uint256.Int
}

func NewRateWrapper(address common.Address, src, dst state.Token, rate *uint256.Int) *RateWrapper {
	return &RateWrapper{address: address, src: src, dst: dst, rate: fpmath.Clone(rate)}
}

func (w *RateWrapper) Address() common.Address { return w.address }
func (w *RateWrapper) Src() common.Address     { return w.src.Address() }
func (w *RateWrapper) Dst() common.Address     { return w.dst.Address() }

// Wrap takes amount of src from pool and pays the converted dst to pool.
func (w *RateWrapper) Wrap(pool common.Address, amount *uint256.Int) (*uint256.Int, error) {
	out, err := fpmath.MulDiv(amount, w.rate, fpmath.Precision())
	if err != nil {
		return nil, fmt.Errorf("wrap quote: %w", err)
	}
	if w.dst.BalanceOf(w.address).Lt(out) {
		return nil, fmt.Errorf("%w: wrapper needs %s", ErrInsufficientReserve, out.Dec())
	}
	if err := w.src.Transfer(pool, w.address, amount); err != nil {
		return nil, fmt.Errorf("take src: %w", err)
	}
	if err := w.dst.Transfer(w.address, pool, out); err != nil {
		return nil, fmt.Errorf("pay dst: %w", err)
	}
	return out, nil
}
