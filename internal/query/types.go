package query

import "time"

// Amounts are base-unit decimal strings; *Formatted fields apply the token's
// decimals. Every response carries the projection watermark it was read at.

// PoolResponse is the pool's global state.
type PoolResponse struct {
	Epoch                       uint64 `json:"epoch"`
	Scale                       uint64 `json:"scale"`
	Product                     string `json:"product"`
	TotalSupply                 string `json:"total_supply"`
	TotalSupplyFormatted        string `json:"total_supply_formatted"`
	TotalUnlocking              string `json:"total_unlocking"`
	CollateralRatio             string `json:"collateral_ratio"`
	LiquidatableCollateralRatio string `json:"liquidatable_collateral_ratio"`
	Liquidatable                bool   `json:"liquidatable"`
	UnlockDurationSeconds       int64  `json:"unlock_duration_seconds"`
	Wrapper                     string `json:"wrapper,omitempty"`
	AsOfSequence                int64  `json:"as_of_sequence"`
}

// AccountResponse is one depositor's position.
type AccountResponse struct {
	Address         string     `json:"address"`
	Locked          string     `json:"locked"`
	LockedFormatted string     `json:"locked_formatted"`
	Unlocking       string     `json:"unlocking"`
	UnlockAt        *time.Time `json:"unlock_at,omitempty"`
	RewardReceiver  string     `json:"reward_receiver,omitempty"`
	LastSequence    int64      `json:"last_sequence"`
	AsOfSequence    int64      `json:"as_of_sequence"`
}

// LiquidationResponse is one liquidation of pooled principal.
type LiquidationResponse struct {
	Sequence   int64     `json:"sequence"`
	Liquidated string    `json:"liquidated"`
	Collateral string    `json:"collateral"`
	Epoch      uint64    `json:"epoch"`
	Scale      uint64    `json:"scale"`
	Product    string    `json:"product"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClaimResponse is one reward payout.
type ClaimResponse struct {
	Sequence  int64     `json:"sequence"`
	Account   string    `json:"account"`
	Receiver  string    `json:"receiver"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken is a token whose projected holder balances differ from
// its net issuance.
type UnbalancedToken struct {
	Token     string `json:"token"`
	Imbalance string `json:"imbalance"`
}
