package shares

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestBookMintBurnTransfer(t *testing.T) {
	b := NewBook()
	alice := uuid.New()
	bob := uuid.New()

	if err := b.Mint(alice, 100); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if b.TotalSupply() != 100 || b.BalanceOf(alice) != 100 {
		t.Errorf("after mint: supply %d, balance %d", b.TotalSupply(), b.BalanceOf(alice))
	}

	if err := b.Transfer(alice, bob, 40); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if b.BalanceOf(alice) != 60 || b.BalanceOf(bob) != 40 {
		t.Errorf("after transfer: %d/%d", b.BalanceOf(alice), b.BalanceOf(bob))
	}
	if b.TotalSupply() != 100 {
		t.Errorf("transfer changed supply: %d", b.TotalSupply())
	}

	if err := b.Burn(bob, 40); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if b.TotalSupply() != 60 {
		t.Errorf("after burn: supply %d", b.TotalSupply())
	}
}

func TestBookRejectsOverdraft(t *testing.T) {
	b := NewBook()
	alice := uuid.New()
	if err := b.Burn(alice, 1); !errors.Is(err, ErrInsufficient) {
		t.Errorf("expected ErrInsufficient, got %v", err)
	}
	if err := b.Transfer(alice, uuid.New(), 1); !errors.Is(err, ErrInsufficient) {
		t.Errorf("expected ErrInsufficient, got %v", err)
	}
}

func TestBookRejectsNonPositive(t *testing.T) {
	b := NewBook()
	if err := b.Mint(uuid.New(), 0); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("expected ErrNonPositiveAmount, got %v", err)
	}
	if err := b.Mint(uuid.New(), -5); !errors.Is(err, ErrNonPositiveAmount) {
		t.Errorf("expected ErrNonPositiveAmount, got %v", err)
	}
}

func TestRestoreBook(t *testing.T) {
	alice := uuid.New()
	b, err := RestoreBook(map[uuid.UUID]int64{alice: 70})
	if err != nil {
		t.Fatalf("RestoreBook failed: %v", err)
	}
	if b.TotalSupply() != 70 || b.BalanceOf(alice) != 70 {
		t.Errorf("restored book mismatch: supply %d", b.TotalSupply())
	}
	if _, err := RestoreBook(map[uuid.UUID]int64{alice: -1}); err == nil {
		t.Error("expected error for negative snapshot balance")
	}
}
