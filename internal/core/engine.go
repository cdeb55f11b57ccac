// Package core wraps the vault state machine in the deterministic
// processing pipeline: idempotency, source-sequence validation, the
// state hash chain, and fan-out to persistence and projections.
package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/custody"
	"VaultLedger/internal/epoch"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/shares"
	"VaultLedger/internal/ticket"
	"VaultLedger/internal/vault"
)

// Engine is the single-writer command processor. A mutex serializes the
// NATS consumer and the HTTP entry points; inside the lock processing is
// strictly sequential, so outputs carry a gapless global sequence.
type Engine struct {
	mu sync.Mutex

	sequence int64
	hasher   *StateHasher

	vault *vault.Vault
	book  *shares.Book
	arena *ticket.Arena
	bank  *custody.Bank

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	log               zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Output is one processed command: the envelope for the event log plus
// the canonical state delta that was hashed.
type Output struct {
	Envelope   *event.Envelope
	StateDelta []byte
}

// NewEngine builds a fresh engine: empty books, epoch 0 finalized at
// price 1.0 with the supplied genesis timestamp.
func NewEngine(
	cfg vault.Config,
	genesisTime int64,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Engine, error) {
	book := shares.NewBook()
	arena := ticket.NewArena()
	bank := custody.NewBank()

	v, err := vault.New(cfg, book, arena, bank, genesisTime, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		sequence:          0,
		hasher:            NewStateHasher(),
		vault:             v,
		book:              book,
		arena:             arena,
		bank:              bank,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		log:               log,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessCommand is the main processing pipeline for commands whose
// producer maintains its own source-sequence counter (the NATS path).
func (e *Engine) ProcessCommand(cmd event.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.processLocked(cmd)
	return err
}

// ProcessLocal stamps the command with its partition's next expected
// source sequence and processes it, all under one lock acquisition.
// Used by the HTTP entry points, whose callers hold no counters.
// Returns the envelope so the caller can answer with the outcome; nil
// envelope means the command was a duplicate.
func (e *Engine) ProcessLocal(cmd event.Command) (*event.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stampSourceSequence(cmd)
	return e.processLocked(cmd)
}

func (e *Engine) stampSourceSequence(cmd event.Command) {
	next := e.sequenceValidator.GetExpectedSequence(e.getPartition(cmd))
	switch c := cmd.(type) {
	case *event.DepositRequest:
		c.Sequence = next
	case *event.WithdrawRequest:
		c.Sequence = next
	case *event.ClaimRequest:
		c.Sequence = next
	case *event.NavReport:
		c.Sequence = next
	case *event.FeeUpdate:
		c.Sequence = next
	}
}

func (e *Engine) processLocked(cmd event.Command) (*event.Envelope, error) {
	start := time.Now()
	eventType := cmd.EventType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := e.getPartition(cmd)
	sourceSequence := cmd.SourceSequence()

	if err := e.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(eventType, "sequence").Inc()
		}
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	// Step 3: Dispatch to the vault
	outcome, err := e.dispatch(cmd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}

	// Step 4: State digest and hash chain
	hashStart := time.Now()
	stateDigest := e.computeStateDigest()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      cmd.EventType(),
		UserID:         cmd.UserID(),
		Timestamp:      e.getCommandTimestamp(cmd),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := Output{Envelope: envelope, StateDelta: stateDigest}
	e.sequence++

	// Step 5: Emit. Persistence gets a BLOCKING send — the engine stalls
	// until the writer drains, so no processed command is ever lost.
	// Projections get a NON-BLOCKING send and rebuild from the log if
	// they fall behind.
	e.persistChan <- output
	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("fanout").Inc()
		}
	}

	// Step 6: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(eventType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(eventType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.updateVaultGauges()
	}

	return envelope, nil
}

// dispatch routes a command to the vault entry point it names.
func (e *Engine) dispatch(cmd event.Command) (interface{}, error) {
	switch c := cmd.(type) {
	case *event.DepositRequest:
		// A DepositRequest means the external transfer already settled:
		// credit the user's custody account, then let the vault pull it.
		if err := e.bank.Credit(c.User, c.Amount); err != nil {
			return nil, fmt.Errorf("credit deposit: %w", err)
		}
		res, err := e.vault.Deposit(c.User, c.Amount)
		if err != nil {
			return nil, err
		}
		e.recordSettled(res.Settled)
		return res, nil

	case *event.WithdrawRequest:
		res, err := e.vault.Withdraw(c.User, c.Shares)
		if err != nil {
			return nil, err
		}
		e.recordSettled(res.Settled)
		return res, nil

	case *event.ClaimRequest:
		res, err := e.vault.Claim(c.User)
		if err != nil {
			return nil, err
		}
		e.recordSettled(res.Settled)
		return res, nil

	case *event.NavReport:
		res, err := e.vault.ContributeEpoch(c.Operator, c.Nav, c.AsOf)
		if err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.EpochsContributed.Inc()
			e.metrics.FeeSharesMinted.WithLabelValues("management").Add(float64(res.MgmtShares))
			e.metrics.FeeSharesMinted.WithLabelValues("performance").Add(float64(res.PerfShares))
		}
		return res, nil

	case *event.FeeUpdate:
		if err := e.vault.SetFees(c.Operator, c.MgmtFeeWad, c.PerfFeeWad); err != nil {
			return nil, err
		}
		return map[string]int64{
			"mgmt_fee_wad": c.MgmtFeeWad,
			"perf_fee_wad": c.PerfFeeWad,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) recordSettled(settled []vault.SettledTicket) {
	if e.metrics == nil {
		return
	}
	for _, s := range settled {
		e.metrics.TicketsSettled.WithLabelValues(s.Action.String()).Inc()
	}
}

// getPartition determines the partition key for sequence validation.
// User commands order per user; operator commands share one global lane.
func (e *Engine) getPartition(cmd event.Command) string {
	if userID := cmd.UserID(); userID != nil {
		return fmt.Sprintf("user:%s", *userID)
	}
	return "global"
}

// getCommandTimestamp extracts the versioned timestamp. The engine MUST
// NOT call time.Now() inside the pipeline; all timestamps are inputs.
func (e *Engine) getCommandTimestamp(cmd event.Command) time.Time {
	switch c := cmd.(type) {
	case *event.DepositRequest:
		return time.Unix(c.Timestamp, 0).UTC()
	case *event.WithdrawRequest:
		return time.Unix(c.Timestamp, 0).UTC()
	case *event.ClaimRequest:
		return time.Unix(c.Timestamp, 0).UTC()
	case *event.NavReport:
		return time.Unix(c.AsOf, 0).UTC()
	case *event.FeeUpdate:
		return time.Unix(c.Timestamp, 0).UTC()
	default:
		panic(fmt.Sprintf("FATAL: getCommandTimestamp called with unhandled command type %T — deterministic engine cannot use wall-clock time", cmd))
	}
}

// computeStateDigest builds the canonical bytes for the state hash: the
// vault's aggregate counters in fixed order, 8 bytes LE each. The
// projection worker decodes the same bytes into its pool-state mirror,
// so the field order here is a wire contract.
func (e *Engine) computeStateDigest() []byte {
	current := e.vault.CurrentEpoch()
	mgmtWad, perfWad := e.vault.FeeConfig()

	digest := make([]byte, 0, 10*8)
	digest = appendInt64LE(digest, current)
	digest = appendInt64LE(digest, e.vault.PriceAt(current))
	digest = appendInt64LE(digest, e.vault.HighWaterMark())
	digest = appendInt64LE(digest, e.vault.PendingDeposits())
	digest = appendInt64LE(digest, e.vault.PendingWithdrawShares())
	digest = appendInt64LE(digest, e.vault.WithdrawReserve())
	digest = appendInt64LE(digest, e.book.TotalSupply())
	digest = appendInt64LE(digest, e.bank.Balance())
	digest = appendInt64LE(digest, mgmtWad)
	digest = appendInt64LE(digest, perfWad)
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (e *Engine) updateVaultGauges() {
	current := e.vault.CurrentEpoch()
	e.metrics.SharePriceWad.Set(float64(e.vault.PriceAt(current)))
	e.metrics.HighWaterMarkWad.Set(float64(e.vault.HighWaterMark()))
	e.metrics.CurrentEpoch.Set(float64(current))
	e.metrics.ShareSupply.Set(float64(e.book.TotalSupply()))
	e.metrics.PendingDeposits.Set(float64(e.vault.PendingDeposits()))
	e.metrics.PendingWithdrawShares.Set(float64(e.vault.PendingWithdrawShares()))
	e.metrics.WithdrawReserve.Set(float64(e.vault.WithdrawReserve()))
}

// --- Administrative & read-side entry points ---

// FundOperator credits the operator's custody account, reflecting an
// external transfer that settled out of band. Not part of the event log;
// it only tops up the balance ContributeEpoch draws on.
func (e *Engine) FundOperator(amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.Credit(e.vault.Operator(), amount)
}

// PreviewEpoch runs the transition math read-only for the operator.
func (e *Engine) PreviewEpoch(nav, asOf int64) (*vault.Preview, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.PreviewEpoch(nav, asOf)
}

// VaultState exports the vault's snapshot for the debug endpoint.
func (e *Engine) VaultState() vault.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.State()
}

// PositionsOf lists a user's outstanding tickets in issue order.
func (e *Engine) PositionsOf(user uuid.UUID) []vault.TicketPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.PositionsOf(user)
}

// EpochRecords returns the finalized epoch history.
func (e *Engine) EpochRecords() []epoch.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.EpochRecords()
}

// ShareBalance reads one account's share balance.
func (e *Engine) ShareBalance(account uuid.UUID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.BalanceOf(account)
}

// AccountBalance reads one external custody account.
func (e *Engine) AccountBalance(account uuid.UUID) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.AccountBalance(account)
}

// Operator returns the privileged operator account.
func (e *Engine) Operator() uuid.UUID {
	return e.vault.Operator()
}

// GetSequence returns the next global sequence to assign.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// --- Snapshot & restore ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"`
	StateHash       [32]byte            `json:"state_hash"`
	Vault           vault.State         `json:"vault"`
	ShareBalances   map[uuid.UUID]int64 `json:"share_balances"`
	PoolBalance     int64               `json:"pool_balance"`
	BankAccounts    map[uuid.UUID]int64 `json:"bank_accounts"`
	SequenceState   map[string]int64    `json:"sequence_state"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, accounts := e.bank.Snapshot()
	return &SnapshotState{
		Sequence:        e.sequence - 1, // last processed sequence
		StateHash:       e.hasher.GetPrevHash(),
		Vault:           e.vault.State(),
		ShareBalances:   e.book.Balances(),
		PoolBalance:     pool,
		BankAccounts:    accounts,
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}

// NewEngineFromSnapshot rebuilds an engine from a snapshot. The event
// writer replays any envelopes past the snapshot sequence afterwards.
func NewEngineFromSnapshot(
	snap *SnapshotState,
	persistChan, projectionChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Engine, error) {
	book, err := shares.RestoreBook(snap.ShareBalances)
	if err != nil {
		return nil, fmt.Errorf("restore share book: %w", err)
	}
	bank, err := custody.RestoreBank(snap.PoolBalance, snap.BankAccounts)
	if err != nil {
		return nil, fmt.Errorf("restore bank: %w", err)
	}
	arena := ticket.NewArena()

	v, err := vault.Restore(snap.Vault, book, arena, bank, log)
	if err != nil {
		return nil, fmt.Errorf("restore vault: %w", err)
	}

	hasher := NewStateHasher()
	hasher.SetPrevHash(snap.StateHash)

	sv := NewSequenceValidator()
	for partition, nextSeq := range snap.SequenceState {
		sv.RestorePartition(partition, nextSeq)
	}

	idem := NewIdempotencyChecker(1_000_000, dbChecker)
	idem.lru.WarmFromKeys(snap.IdempotencyKeys)

	return &Engine{
		sequence:          snap.Sequence + 1,
		hasher:            hasher,
		vault:             v,
		book:              book,
		arena:             arena,
		bank:              bank,
		idempotency:       idem,
		sequenceValidator: sv,
		metrics:           metrics,
		log:               log,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// AttachDBChecker enables the Postgres dedup tier. Recovery attaches it
// only after replay finishes — with the tier active during replay,
// every stored envelope would look like a duplicate of its own log row.
func (e *Engine) AttachDBChecker(dbChecker DBIdempotencyChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.dbChecker = dbChecker
}

// WarmLRU loads recent idempotency keys so fresh duplicates never hit
// the database.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
