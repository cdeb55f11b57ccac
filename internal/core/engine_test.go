package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/event"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"
)

const genesisTime = int64(1_700_000_000)

type engineFixture struct {
	engine     *Engine
	operator   uuid.UUID
	persist    chan Output
	projection chan Output
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	operator := uuid.New()
	persist := make(chan Output, 64)
	projection := make(chan Output, 64)

	eng, err := NewEngine(vault.Config{
		Operator:      operator,
		AssetDecimals: 6,
		MgmtFeeWad:    vmath.WAD / 50, // 2% annual
		PerfFeeWad:    vmath.WAD / 5,  // 20% of gain
	}, genesisTime, persist, projection, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return &engineFixture{engine: eng, operator: operator, persist: persist, projection: projection}
}

func (f *engineFixture) drainPersist(t *testing.T) []Output {
	t.Helper()
	var outputs []Output
	for {
		select {
		case out := <-f.persist:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func TestProcessDepositProducesEnvelope(t *testing.T) {
	f := newEngineFixture(t)
	user := uuid.New()

	genesisTip := f.engine.GetStateHash()

	cmd := &event.DepositRequest{
		CommandID: uuid.New(),
		User:      user,
		Amount:    100,
		Timestamp: genesisTime + 10,
		Sequence:  0,
	}
	if err := f.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}

	outputs := f.drainPersist(t)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 persisted output, got %d", len(outputs))
	}

	env := outputs[0].Envelope
	if env.Sequence != 0 {
		t.Errorf("sequence = %d, want 0", env.Sequence)
	}
	if env.EventType != event.EventTypeDepositQueued {
		t.Errorf("event type = %v, want DepositQueued", env.EventType)
	}
	if env.UserID == nil || *env.UserID != user.String() {
		t.Errorf("user id = %v, want %s", env.UserID, user)
	}
	if env.PrevHash != genesisTip {
		t.Error("prev hash should be the genesis tip")
	}
	if env.StateHash == genesisTip {
		t.Error("state hash should advance past genesis")
	}
	if env.StateHash != f.engine.GetStateHash() {
		t.Error("chain tip should equal the envelope's state hash")
	}
	if len(env.Payload) == 0 {
		t.Error("payload should carry the action result")
	}
}

func TestDuplicateCommandSkipped(t *testing.T) {
	f := newEngineFixture(t)
	user := uuid.New()

	cmd := &event.DepositRequest{
		CommandID: uuid.New(),
		User:      user,
		Amount:    100,
		Timestamp: genesisTime + 10,
		Sequence:  0,
	}
	if err := f.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.engine.ProcessCommand(cmd); err != nil {
		t.Fatalf("redelivery should be accepted silently: %v", err)
	}

	if got := len(f.drainPersist(t)); got != 1 {
		t.Errorf("expected 1 persisted output, got %d", got)
	}
	if f.engine.AccountBalance(user) != 0 {
		t.Error("redelivery must not credit the user twice")
	}
	if f.engine.GetSequence() != 1 {
		t.Errorf("sequence = %d, want 1", f.engine.GetSequence())
	}
}

func TestSequenceGapRejected(t *testing.T) {
	f := newEngineFixture(t)
	user := uuid.New()

	cmd := &event.DepositRequest{
		CommandID: uuid.New(),
		User:      user,
		Amount:    100,
		Timestamp: genesisTime + 10,
		Sequence:  5, // expected 0
	}
	if err := f.engine.ProcessCommand(cmd); err == nil {
		t.Fatal("expected sequence gap rejection")
	}
	if got := len(f.drainPersist(t)); got != 0 {
		t.Errorf("rejected command must not persist, got %d outputs", got)
	}
}

func TestDepositEpochClaimFlow(t *testing.T) {
	f := newEngineFixture(t)
	user := uuid.New()

	err := f.engine.ProcessCommand(&event.DepositRequest{
		CommandID: uuid.New(),
		User:      user,
		Amount:    100,
		Timestamp: genesisTime + 10,
		Sequence:  0,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Deposited capital sweeps to the operator for deployment.
	if got := f.engine.AccountBalance(f.operator); got != 100 {
		t.Errorf("operator balance = %d, want 100", got)
	}

	// NAV 0: the deposit is not priced in yet, price stays 1.0.
	err = f.engine.ProcessCommand(&event.NavReport{
		CommandID: uuid.New(),
		Operator:  f.operator,
		Nav:       0,
		AsOf:      genesisTime + 20,
		Sequence:  0,
	})
	if err != nil {
		t.Fatalf("nav report: %v", err)
	}

	err = f.engine.ProcessCommand(&event.ClaimRequest{
		CommandID: uuid.New(),
		User:      user,
		Timestamp: genesisTime + 30,
		Sequence:  1,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// 100 native units at 6 decimals, price 1.0 -> 100e12 share units.
	if got := f.engine.ShareBalance(user); got != 100_000_000_000_000 {
		t.Errorf("share balance = %d, want 100000000000000", got)
	}

	outputs := f.drainPersist(t)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 persisted outputs, got %d", len(outputs))
	}
	for i, out := range outputs {
		if out.Envelope.Sequence != int64(i) {
			t.Errorf("output %d has sequence %d", i, out.Envelope.Sequence)
		}
		if i > 0 && out.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d breaks the hash chain", i)
		}
	}
}

func TestOperatorGateOnNavReport(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.ProcessCommand(&event.NavReport{
		CommandID: uuid.New(),
		Operator:  uuid.New(), // imposter
		Nav:       0,
		AsOf:      genesisTime + 20,
		Sequence:  0,
	})
	if err == nil {
		t.Fatal("expected rejection for non-operator nav report")
	}
}

func TestFeeUpdateCommand(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.ProcessCommand(&event.FeeUpdate{
		CommandID:  uuid.New(),
		Operator:   f.operator,
		MgmtFeeWad: vmath.WAD / 100,
		PerfFeeWad: vmath.WAD / 10,
		Timestamp:  genesisTime + 5,
		Sequence:   0,
	})
	if err != nil {
		t.Fatalf("fee update: %v", err)
	}

	outputs := f.drainPersist(t)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 persisted output, got %d", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypeFeesUpdated {
		t.Errorf("event type = %v, want FeesUpdated", outputs[0].Envelope.EventType)
	}
	if outputs[0].Envelope.UserID != nil {
		t.Error("fee updates are global, user id must be nil")
	}
}

func TestSnapshotRestoreContinuesProcessing(t *testing.T) {
	f := newEngineFixture(t)
	user := uuid.New()

	err := f.engine.ProcessCommand(&event.DepositRequest{
		CommandID: uuid.New(),
		User:      user,
		Amount:    100,
		Timestamp: genesisTime + 10,
		Sequence:  0,
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err = f.engine.ProcessCommand(&event.NavReport{
		CommandID: uuid.New(),
		Operator:  f.operator,
		Nav:       0,
		AsOf:      genesisTime + 20,
		Sequence:  0,
	})
	if err != nil {
		t.Fatalf("nav report: %v", err)
	}
	f.drainPersist(t)

	snap := f.engine.CreateSnapshotState()
	if snap.Sequence != 1 {
		t.Errorf("snapshot sequence = %d, want 1", snap.Sequence)
	}

	persist := make(chan Output, 64)
	projection := make(chan Output, 64)
	restored, err := NewEngineFromSnapshot(snap, persist, projection, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngineFromSnapshot: %v", err)
	}

	if restored.GetStateHash() != snap.StateHash {
		t.Error("restored chain tip must match the snapshot")
	}
	if restored.GetSequence() != 2 {
		t.Errorf("restored sequence = %d, want 2", restored.GetSequence())
	}

	// The matured deposit ticket settles on the restored engine.
	err = restored.ProcessCommand(&event.ClaimRequest{
		CommandID: uuid.New(),
		User:      user,
		Timestamp: genesisTime + 30,
		Sequence:  1,
	})
	if err != nil {
		t.Fatalf("claim on restored engine: %v", err)
	}
	if got := restored.ShareBalance(user); got != 100_000_000_000_000 {
		t.Errorf("share balance = %d, want 100000000000000", got)
	}

	out := <-persist
	if out.Envelope.Sequence != 2 {
		t.Errorf("post-restore envelope sequence = %d, want 2", out.Envelope.Sequence)
	}
	if out.Envelope.PrevHash != snap.StateHash {
		t.Error("post-restore envelope must chain off the snapshot hash")
	}
}
