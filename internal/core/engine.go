package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"RebalancePool/internal/access"
	"RebalancePool/internal/event"
	"RebalancePool/internal/ledger"
	fpmath "RebalancePool/internal/math"
	"RebalancePool/internal/observability"
	"RebalancePool/internal/state"
	"RebalancePool/internal/treasury"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	ErrSequenceGap     = errors.New("core: sequence gap")
	ErrOutOfOrder      = errors.New("core: out-of-order command")
	ErrUnknownWrapper  = errors.New("core: unknown wrapper")
	ErrMissingTime     = errors.New("core: command has no timestamp")
	ErrUnknownCommand  = errors.New("core: unknown command type")
	ErrSnapshotRestore = errors.New("core: snapshot restore failed")
	ErrReplayDiverged  = errors.New("core: replay diverged from log")
)

// supplyCheckInterval is how often (in commands) the full ledger supply scan runs.
const supplyCheckInterval = 1000

// Config wires the pool and its in-process collaborators.
type Config struct {
	Pool state.Params

	// Decimals of the principal and collateral tokens, for metrics only.
	PrincipalDecimals  int32
	CollateralDecimals int32

	Treasury        common.Address
	BaseToken       common.Address
	RedeemRate      *uint256.Int // base per principal, 1e18 fixed point
	CollateralRatio *uint256.Int // initial protocol collateral ratio

	// Wrappers maps wrapper address to its base→collateral rate. The one at
	// ActiveWrapper is installed at start; zero means none.
	Wrappers      map[common.Address]*uint256.Int
	ActiveWrapper common.Address

	// Roles granted at genesis.
	Roles map[access.Role][]common.Address

	DedupCapacity int
}

// Engine is the single-threaded command processor in front of the pool.
type Engine struct {
	sequence          int64
	chain             *HashChain
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	pool              *state.Pool
	treasury          *treasury.FixedRateTreasury
	wrappers          map[common.Address]state.TokenWrapper
	acl               *access.Registry
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger
	cfg               Config

	// events of the command in flight
	pending []event.Event

	// set while re-applying logged commands
	replaying bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied command.
type CoreOutput struct {
	Envelope   *event.CommandEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Pool       PoolSummary
}

// PoolSummary is the pool's global state after a command.
type PoolSummary struct {
	Epoch                       uint64
	Scale                       uint64
	Product                     *uint256.Int
	TotalSupply                 *uint256.Int
	TotalUnlocking              *uint256.Int
	CollateralRatio             *uint256.Int
	LiquidatableCollateralRatio *uint256.Int
	UnlockDuration              time.Duration
	Wrapper                     common.Address
}

func NewEngine(
	cfg Config,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Engine, error) {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 1_000_000
	}
	if cfg.RedeemRate == nil || cfg.RedeemRate.IsZero() {
		return nil, fmt.Errorf("redeem rate must be positive")
	}

	balanceTracker := ledger.NewBalanceTracker()
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	c := &Engine{
		sequence:          startSequence,
		chain:             NewHashChain(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		acl:               access.NewRegistry(),
		idempotency:       NewIdempotencyChecker(cfg.DedupCapacity, dbChecker, metrics, logger),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            logger,
		cfg:               cfg,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}

	c.treasury = treasury.NewFixedRateTreasury(
		cfg.Treasury,
		journalGen.Token(cfg.Pool.PrincipalToken),
		journalGen.Token(cfg.BaseToken),
		cfg.RedeemRate,
		fpmath.Clone(cfg.CollateralRatio),
	)

	c.wrappers = make(map[common.Address]state.TokenWrapper, len(cfg.Wrappers))
	for addr, rate := range cfg.Wrappers {
		c.wrappers[addr] = treasury.NewRateWrapper(addr,
			journalGen.Token(cfg.BaseToken), journalGen.Token(cfg.Pool.CollateralToken), rate)
	}

	for role, members := range cfg.Roles {
		for _, m := range members {
			c.acl.Grant(role, m)
		}
	}

	pool, err := c.newPool(cfg.ActiveWrapper)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

func (c *Engine) newPool(wrapper common.Address) (*state.Pool, error) {
	var w state.TokenWrapper
	if wrapper != (common.Address{}) {
		var ok bool
		if w, ok = c.wrappers[wrapper]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWrapper, wrapper.Hex())
		}
	}
	return state.NewPool(c.cfg.Pool, state.Dependencies{
		Tokens:  func(addr common.Address) state.Token { return c.journalGen.Token(addr) },
		Source:  c.treasury,
		Wrapper: w,
		Access:  c.acl,
		Sink:    state.EventSinkFunc(func(evt event.Event) { c.pending = append(c.pending, evt) }),
	})
}

// ProcessCommand is the main processing pipeline. A rejected command leaves
// no trace: pool, ledger and the sender's nonce are all rolled back.
func (c *Engine) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: two-tier idempotency
	isDuplicate := !c.replaying && c.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: ordering
	var (
		partition    string
		prevExpected int64
	)
	if ratio, ok := cmd.(*event.CollateralRatioUpdate); ok {
		if isDuplicate {
			c.reject(commandType, "duplicate")
			return nil
		}
		if !c.sequenceValidator.ValidateRatioSequence(RatioPartition(cmd.Sender()), ratio.RatioSequence) {
			c.reject(commandType, "stale")
			return nil
		}
	} else {
		partition = SenderPartition(cmd.Sender())
		prevExpected = c.sequenceValidator.GetExpectedSequence(partition)
		if err := c.sequenceValidator.ValidateSequence(partition, cmd.SourceSequence(), isDuplicate); err != nil {
			c.reject(commandType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
		if isDuplicate {
			c.reject(commandType, "duplicate")
			return nil
		}
	}

	if cmd.Timestamp().IsZero() {
		c.rollbackNonce(partition, prevExpected)
		c.reject(commandType, "timestamp")
		return ErrMissingTime
	}

	// Step 3: execute inside a ledger batch
	before := c.pool.EpochState()
	c.pending = c.pending[:0]
	c.journalGen.Begin(idempotencyKey, c.sequence, cmd.Timestamp())

	if err := c.dispatch(cmd); err != nil {
		if abortErr := c.journalGen.Abort(); abortErr != nil {
			panic(fmt.Sprintf("FATAL: ledger abort failed after %v: %v", err, abortErr))
		}
		c.pending = c.pending[:0]
		c.rollbackNonce(partition, prevExpected)
		c.reject(commandType, "rejected")
		return fmt.Errorf("%s rejected: %w", commandType, err)
	}

	batch := c.journalGen.Commit()
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
	}

	// Step 4: post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: hash chain and envelope
	events := make([]event.Event, len(c.pending))
	copy(events, c.pending)

	hashStart := time.Now()
	prevHash := c.chain.Tip()
	stateDigest := c.computeStateDigest(batch, events)
	stateHash := c.chain.Append(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s payload: %v", commandType, err))
	}

	output := CoreOutput{
		Envelope: &event.CommandEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			CommandType:    cmd.CommandType(),
			Sender:         cmd.Sender(),
			Timestamp:      cmd.Timestamp(),
			SourceSequence: cmd.SourceSequence(),
			Payload:        payload,
			Events:         events,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		StateDelta: stateDigest,
		Pool:       c.Summary(),
	}
	c.sequence++

	// Step 6: emit. Persistence blocks (backpressure); projections drop on
	// full and rebuild from the log.
	if c.persistChan != nil && !c.replaying {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 7: mark processed
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	c.logger.Debug().
		Int64("sequence", output.Envelope.Sequence).
		Str("command_type", commandType).
		Str("sender", cmd.Sender().Hex()).
		Int("events", len(events)).
		Int("journals", len(batch.Journals)).
		Msg("command applied")

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.observe(before, batch, events)
	}
	return nil
}

// ReplayCommand re-applies a logged command during recovery. It skips the
// dedup lookup and persistence, and fails if the resulting state hash differs
// from the one recorded in the log.
func (c *Engine) ReplayCommand(cmd event.Command, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("%w: engine at seq %d, log row is %d", ErrReplayDiverged, c.sequence, sequence)
	}

	c.replaying = true
	defer func() { c.replaying = false }()

	if err := c.ProcessCommand(cmd); err != nil {
		return fmt.Errorf("%w: seq %d: %v", ErrReplayDiverged, sequence, err)
	}
	if c.sequence != sequence+1 {
		return fmt.Errorf("%w: seq %d was not applied", ErrReplayDiverged, sequence)
	}
	if got := c.chain.Tip(); got != stateHash {
		return fmt.Errorf("%w: seq %d hash %x, log has %x", ErrReplayDiverged, sequence, got, stateHash)
	}
	return nil
}

func (c *Engine) reject(commandType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

func (c *Engine) rollbackNonce(partition string, prev int64) {
	if partition != "" {
		c.sequenceValidator.SetExpectedSequence(partition, prev)
	}
}

func msgOf(cmd event.Command) state.Msg {
	return state.Msg{Sender: cmd.Sender(), Timestamp: cmd.Timestamp()}
}

func amountOf(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (c *Engine) dispatch(cmd event.Command) error {
	msg := msgOf(cmd)

	switch e := cmd.(type) {
	case *event.MintCmd:
		return c.handleMint(msg, e)
	case *event.DepositCmd:
		return c.pool.Deposit(msg, amountOf(e.Amount), e.Receiver)
	case *event.WithdrawCmd:
		return c.pool.Withdraw(msg, amountOf(e.Amount), e.Receiver)
	case *event.UnlockCmd:
		return c.pool.Unlock(msg, amountOf(e.Amount))
	case *event.WithdrawUnlockedCmd:
		return c.pool.WithdrawUnlocked(msg, e.DoClaim, e.Receiver)
	case *event.ClaimCmd:
		return c.pool.Claim(msg, e.Account, e.Receiver)
	case *event.BatchClaimCmd:
		return c.pool.BatchClaim(msg, e.Accounts, e.Receivers)
	case *event.CheckpointCmd:
		return c.pool.Checkpoint(msg, e.Account)
	case *event.SetRewardReceiverCmd:
		return c.pool.SetRewardReceiver(msg, e.Receiver)
	case *event.LiquidateCmd:
		_, err := c.pool.Liquidate(msg, amountOf(e.Amount), amountOf(e.MinCollateralOut))
		return err
	case *event.DepositRewardCmd:
		return c.pool.DepositReward(msg, e.Token, amountOf(e.Amount))
	case *event.CollateralRatioUpdate:
		return c.handleCollateralRatio(msg, e)
	case *event.UpdateLiquidatableCollateralRatioCmd:
		return c.pool.UpdateLiquidatableCollateralRatio(msg, amountOf(e.Ratio))
	case *event.UpdateUnlockDurationCmd:
		return c.pool.UpdateUnlockDuration(msg, e.Duration)
	case *event.UpdateWrapperCmd:
		return c.handleUpdateWrapper(msg, e)
	case *event.AddRewardCmd:
		return c.pool.AddReward(msg, e.Token, e.Manager, e.PeriodLength)
	case *event.UpdateRewardCmd:
		return c.pool.UpdateReward(msg, e.Token, e.Manager, e.PeriodLength)
	case *event.RemoveRewardCmd:
		return c.pool.RemoveReward(msg, e.Token)
	case *event.GrantRoleCmd:
		return c.handleRole(msg, e.Role, e.Account, true)
	case *event.RevokeRoleCmd:
		return c.handleRole(msg, e.Role, e.Account, false)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (c *Engine) requireRole(role access.Role, who common.Address) error {
	if !c.acl.HasRole(role, who) {
		return fmt.Errorf("%w: %s missing %s", state.ErrUnauthorized, who.Hex(), role)
	}
	return nil
}

// handleMint credits fresh tokens (bridge inflow, treasury reserve top-up).
func (c *Engine) handleMint(msg state.Msg, cmd *event.MintCmd) error {
	if err := c.requireRole(access.RoleMinter, msg.Sender); err != nil {
		return err
	}
	if cmd.To == (common.Address{}) || cmd.Token == (common.Address{}) {
		return state.ErrZeroAddress
	}
	amount := amountOf(cmd.Amount)
	if amount.IsZero() {
		return state.ErrZeroAmount
	}
	if err := c.journalGen.Mint(cmd.Token, cmd.To, amount); err != nil {
		return err
	}
	c.pending = append(c.pending, &event.TokenMinted{Token: cmd.Token, To: cmd.To, Amount: amount.Clone()})
	return nil
}

func (c *Engine) handleCollateralRatio(msg state.Msg, cmd *event.CollateralRatioUpdate) error {
	if err := c.requireRole(access.RoleOracle, msg.Sender); err != nil {
		return err
	}
	if cmd.Ratio == nil {
		return state.ErrZeroAmount
	}
	old := c.treasury.SetCollateralRatio(cmd.Ratio)
	c.pending = append(c.pending, &event.CollateralRatioUpdated{OldRatio: old, NewRatio: cmd.Ratio.Clone()})
	return nil
}

func (c *Engine) handleUpdateWrapper(msg state.Msg, cmd *event.UpdateWrapperCmd) error {
	if cmd.Wrapper == (common.Address{}) {
		return c.pool.UpdateWrapper(msg, nil)
	}
	w, ok := c.wrappers[cmd.Wrapper]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWrapper, cmd.Wrapper.Hex())
	}
	return c.pool.UpdateWrapper(msg, w)
}

func (c *Engine) handleRole(msg state.Msg, name string, account common.Address, grant bool) error {
	if err := c.requireRole(access.RoleAdmin, msg.Sender); err != nil {
		return err
	}
	role, err := access.ParseRole(name)
	if err != nil {
		return err
	}
	if account == (common.Address{}) {
		return state.ErrZeroAddress
	}
	if grant {
		if c.acl.Grant(role, account) {
			c.pending = append(c.pending, &event.RoleGranted{Role: string(role), Account: account})
		}
		return nil
	}
	if c.acl.Revoke(role, account) {
		c.pending = append(c.pending, &event.RoleRevoked{Role: string(role), Account: account})
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: pool
// aggregates, then every ledger account the batch touched, then the events.
func (c *Engine) computeStateDigest(batch *ledger.Batch, events []event.Event) []byte {
	es := c.pool.EpochState()

	digest := make([]byte, 0, 256)
	digest = binary.LittleEndian.AppendUint64(digest, es.Epoch)
	digest = binary.LittleEndian.AppendUint64(digest, es.Scale)
	digest = appendUint256(digest, es.Product)
	digest = appendUint256(digest, c.pool.TotalSupply())
	digest = appendUint256(digest, c.pool.TotalUnlocking())
	digest = appendUint256(digest, c.treasury.CollateralRatio())

	affected := make(map[ledger.AccountKey]struct{})
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = struct{}{}
			affected[j.CreditAccount] = struct{}{}
		}
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendUint256(digest, c.balanceTracker.GetBalance(key))
	}

	for _, evt := range events {
		raw, err := json.Marshal(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s for digest: %v", evt.EventType(), err))
		}
		digest = binary.LittleEndian.AppendUint32(digest, uint32(evt.EventType()))
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(raw)))
		digest = append(digest, raw...)
	}
	return digest
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	return append(buf, b[:]...)
}

// postCheckInvariants runs after every command. Custody must cover the
// locked and unlocking principal; the full supply scan is periodic.
func (c *Engine) postCheckInvariants() error {
	owed, err := fpmath.Add(c.pool.TotalSupply(), c.pool.TotalUnlocking())
	if err != nil {
		return fmt.Errorf("principal owed: %w", err)
	}
	if err := c.validator.ValidateCustodyAtLeast(c.cfg.Pool.PrincipalToken, c.pool.Address(), owed); err != nil {
		return fmt.Errorf("pool custody: %w", err)
	}

	if c.sequence > 0 && c.sequence%supplyCheckInterval == 0 {
		if err := c.validator.ValidateSupply(); err != nil {
			return fmt.Errorf("ledger supply at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// observe publishes pool gauges and per-event counters.
func (c *Engine) observe(before state.Snapshot, batch *ledger.Batch, events []event.Event) {
	m := c.metrics
	after := c.pool.EpochState()

	m.PoolEpoch.Set(float64(after.Epoch))
	m.PoolScale.Set(float64(after.Scale))
	m.PoolProduct.Set(fpmath.UnitsToDecimal(after.Product, 18).InexactFloat64())
	m.PoolTotalSupply.Set(fpmath.UnitsToDecimal(c.pool.TotalSupply(), c.cfg.PrincipalDecimals).InexactFloat64())
	m.PoolTotalUnlocking.Set(fpmath.UnitsToDecimal(c.pool.TotalUnlocking(), c.cfg.PrincipalDecimals).InexactFloat64())
	m.PoolAccounts.Set(float64(len(c.pool.Accounts())))
	m.CollateralRatio.Set(fpmath.UnitsToDecimal(c.treasury.CollateralRatio(), 18).InexactFloat64())

	if after.Epoch > before.Epoch {
		m.LiquidationWipeouts.Add(float64(after.Epoch - before.Epoch))
	} else if after.Scale > before.Scale {
		m.ScaleRollovers.Add(float64(after.Scale - before.Scale))
	}

	for _, j := range batch.Journals {
		m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	for _, evt := range events {
		switch e := evt.(type) {
		case *event.Liquidate:
			m.Liquidations.Inc()
			m.LiquidatedPrincipal.Add(fpmath.UnitsToDecimal(e.Liquidated, c.cfg.PrincipalDecimals).InexactFloat64())
			m.LiquidationCollateral.Add(fpmath.UnitsToDecimal(e.Collateral, c.cfg.CollateralDecimals).InexactFloat64())
		case *event.Claim:
			m.RewardClaimed.WithLabelValues(e.Token.Hex()).Add(fpmath.UnitsToDecimal(e.Amount, 18).InexactFloat64())
		case *event.DepositReward:
			m.RewardDeposited.WithLabelValues(e.Token.Hex()).Add(fpmath.UnitsToDecimal(e.Amount, 18).InexactFloat64())
		}
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState is the serializable in-memory state of the engine.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*uint256.Int
	Pool            *state.State
	CollateralRatio *uint256.Int
	Roles           map[string][]string
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot loads a snapshot into a freshly constructed engine.
// Commands after snap.Sequence are replayed by the caller.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	if snap.Pool == nil {
		return fmt.Errorf("%w: no pool state", ErrSnapshotRestore)
	}

	if err := c.acl.Import(snap.Roles); err != nil {
		return fmt.Errorf("%w: roles: %v", ErrSnapshotRestore, err)
	}

	pool, err := c.newPool(snap.Pool.Wrapper)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotRestore, err)
	}
	if err := pool.Import(snap.Pool); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotRestore, err)
	}
	c.pool = pool

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	if snap.CollateralRatio != nil {
		c.treasury.SetCollateralRatio(snap.CollateralRatio)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	c.sequence = snap.Sequence + 1
	c.chain.Reset(snap.StateHash)
	c.journalGen.SetSequence(c.sequence)
	return nil
}

// WarmLRU loads recent composite idempotency keys into the LRU cache.
func (c *Engine) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next global sequence to be assigned.
func (c *Engine) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	return c.chain.Tip()
}

// Pool exposes the pool for read-only inspection from the core goroutine.
func (c *Engine) Pool() *state.Pool {
	return c.pool
}

// Summary reports the pool's current global state.
func (c *Engine) Summary() PoolSummary {
	now := c.pool.EpochState()
	params := c.pool.Params()
	sum := PoolSummary{
		Epoch:                       now.Epoch,
		Scale:                       now.Scale,
		Product:                     fpmath.Clone(now.Product),
		TotalSupply:                 c.pool.TotalSupply(),
		TotalUnlocking:              c.pool.TotalUnlocking(),
		CollateralRatio:             c.treasury.CollateralRatio(),
		LiquidatableCollateralRatio: fpmath.Clone(params.LiquidatableCollateralRatio),
		UnlockDuration:              params.UnlockDuration,
	}
	if w := c.pool.Wrapper(); w != nil {
		sum.Wrapper = w.Address()
	}
	return sum
}

// Balance returns holder's ledger balance of token.
func (c *Engine) Balance(token, holder common.Address) *uint256.Int {
	return c.balanceTracker.BalanceOf(token, holder)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.chain.Tip(),
		Balances:        c.balanceTracker.Snapshot(),
		Pool:            c.pool.Export(),
		CollateralRatio: c.treasury.CollateralRatio(),
		Roles:           c.acl.Export(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
