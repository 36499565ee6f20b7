package state

import (
	fpmath "RebalancePool/internal/math"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type bucketKey struct {
	epoch uint64
	scale uint64
}

// SumEntry is one (token, epoch, scale) running sum, used for export.
type SumEntry struct {
	Token common.Address `json:"token"`
	Epoch uint64         `json:"epoch"`
	Scale uint64         `json:"scale"`
	Sum   *uint256.Int   `json:"sum"`
}

// RewardAccountant tracks reward-per-unit sums bucketed by (epoch, scale) for
// one stake aggregate. Sums carry an extra 1e18 of precision on top of the
// product so small rewards on large stakes are not lost.
// Not thread-safe; owned by a single Pool.
type RewardAccountant struct {
	ledger  *ShareLedger
	tokens  []common.Address
	tracked map[common.Address]bool
	sums    map[common.Address]map[bucketKey]*uint256.Int
}

func NewRewardAccountant(ledger *ShareLedger) *RewardAccountant {
	return &RewardAccountant{
		ledger:  ledger,
		tracked: make(map[common.Address]bool),
		sums:    make(map[common.Address]map[bucketKey]*uint256.Int),
	}
}

// Track starts accounting for token. Tokens are never untracked so sums of a
// retired reward token stay claimable. Returns false if already tracked.
func (ra *RewardAccountant) Track(token common.Address) bool {
	if ra.tracked[token] {
		return false
	}
	ra.tracked[token] = true
	ra.tokens = append(ra.tokens, token)
	ra.sums[token] = make(map[bucketKey]*uint256.Int)
	return true
}

// untrack reverses the most recent Track.
func (ra *RewardAccountant) untrack(token common.Address) {
	if !ra.tracked[token] {
		return
	}
	delete(ra.tracked, token)
	delete(ra.sums, token)
	for i, t := range ra.tokens {
		if t == token {
			ra.tokens = append(ra.tokens[:i], ra.tokens[i+1:]...)
			break
		}
	}
}

// Tokens returns tracked tokens in the order they were added.
func (ra *RewardAccountant) Tokens() []common.Address {
	out := make([]common.Address, len(ra.tokens))
	copy(out, ra.tokens)
	return out
}

// Sum returns the running sum of token for (epoch, scale).
func (ra *RewardAccountant) Sum(token common.Address, epoch, scale uint64) *uint256.Int {
	if v, ok := ra.sums[token][bucketKey{epoch, scale}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// CurrentSum returns the running sum of token at the ledger's current bucket.
func (ra *RewardAccountant) CurrentSum(token common.Address) *uint256.Int {
	return ra.Sum(token, ra.ledger.epoch, ra.ledger.scale)
}

// Distribute credits amount of token to stake, pro rata, at the current
// product. Returns the sum before the update so callers can undo it.
func (ra *RewardAccountant) Distribute(token common.Address, amount, stake *uint256.Int) (*uint256.Int, error) {
	if !ra.tracked[token] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRewardToken, token.Hex())
	}
	if stake.IsZero() {
		return nil, ErrEmptyPool
	}

	prev := ra.CurrentSum(token)
	if amount.IsZero() {
		return prev, nil
	}

	scaled := new(uint256.Int).Mul(ra.ledger.product, fpmath.Precision())
	delta, err := fpmath.MulDiv(amount, scaled, stake)
	if err != nil {
		return nil, fmt.Errorf("reward per unit: %w", err)
	}
	next, err := fpmath.Add(prev, delta)
	if err != nil {
		return nil, fmt.Errorf("reward sum: %w", err)
	}

	ra.sums[token][bucketKey{ra.ledger.epoch, ra.ledger.scale}] = next
	return prev, nil
}

// Earned returns the reward accrued by initial staked at snap, whose sum
// snapshot for token was sumSnap. Only the snapshot's scale and the one after
// it contribute; anything further is below representable precision.
func (ra *RewardAccountant) Earned(token common.Address, initial *uint256.Int, snap Snapshot, sumSnap *uint256.Int) *uint256.Int {
	if initial == nil || initial.IsZero() || snap.Product == nil || snap.Product.IsZero() || !ra.tracked[token] {
		return new(uint256.Int)
	}

	first := fpmath.SaturatingSub(ra.Sum(token, snap.Epoch, snap.Scale), fpmath.Clone(sumSnap))
	second := new(uint256.Int).Div(ra.Sum(token, snap.Epoch, snap.Scale+1), ra.ledger.scaleFactor)
	total := new(uint256.Int).Add(first, second)
	if total.IsZero() {
		return total
	}

	denom := new(uint256.Int).Mul(snap.Product, fpmath.Precision())
	earned, err := fpmath.MulDiv(initial, total, denom)
	if err != nil {
		panic(fmt.Sprintf("reward accountant: earned overflow for %s: %v", token.Hex(), err))
	}
	return earned
}

func (ra *RewardAccountant) setSum(token common.Address, epoch, scale uint64, v *uint256.Int) {
	bucket, ok := ra.sums[token]
	if !ok {
		return
	}
	key := bucketKey{epoch, scale}
	if v == nil || v.IsZero() {
		delete(bucket, key)
		return
	}
	bucket[key] = v.Clone()
}

// entries returns all non-zero sums sorted by token, epoch and scale.
func (ra *RewardAccountant) entries() []SumEntry {
	var out []SumEntry
	for _, token := range ra.tokens {
		for key, v := range ra.sums[token] {
			out = append(out, SumEntry{Token: token, Epoch: key.epoch, Scale: key.scale, Sum: v.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Token.Cmp(out[j].Token); c != 0 {
			return c < 0
		}
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Scale < out[j].Scale
	})
	return out
}
