package ledger_test

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"guildpay/internal/db"
	"guildpay/internal/fault"
	"guildpay/internal/ledger"
	"guildpay/internal/migrate"
)

func newLedger(t *testing.T) (ledger.Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ledger.Ledger{DB: conn}, conn
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestTransferConservesValue(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()

	if err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Deposit(ctx, tx, "USDC", "payer", 1000)
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Lock(ctx, tx, "USDC", "payer", 400)
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Release(ctx, tx, "USDC", "payee", 400)
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	for account, want := range map[string]int64{"payer": 600, "payee": 400, ledger.EscrowAccount: 0} {
		got, err := l.Balance(ctx, "USDC", account)
		if err != nil || got != want {
			t.Fatalf("%s balance = %d, want %d (%v)", account, got, want, err)
		}
	}
}

func TestDebitRejectsOverdraw(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()

	if err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Deposit(ctx, tx, "USDC", "payer", 100)
	}); err != nil {
		t.Fatal(err)
	}
	err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Transfer(ctx, tx, "USDC", "payer", "payee", 200)
	})
	if !fault.IsKind(err, fault.Custody) {
		t.Fatalf("overdraw: got %v, want custody", err)
	}
	// a missing account behaves like a zero balance
	err = inTx(t, conn, func(tx *sql.Tx) error {
		return l.Transfer(ctx, tx, "USDC", "ghost", "payee", 1)
	})
	if !fault.IsKind(err, fault.Custody) {
		t.Fatalf("ghost debit: got %v, want custody", err)
	}
}

func TestCreditRejectsOverflow(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()

	if err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Deposit(ctx, tx, "USDC", "whale", math.MaxInt64)
	}); err != nil {
		t.Fatal(err)
	}
	err := inTx(t, conn, func(tx *sql.Tx) error {
		return l.Deposit(ctx, tx, "USDC", "whale", 1)
	})
	if !fault.IsKind(err, fault.Overflow) {
		t.Fatalf("overflow: got %v, want overflow", err)
	}
}

func TestAmountsMustBePositive(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		err := inTx(t, conn, func(tx *sql.Tx) error {
			return l.Deposit(ctx, tx, "USDC", "payer", amount)
		})
		if !fault.IsKind(err, fault.InvalidInput) {
			t.Fatalf("deposit %d: got %v, want invalid_input", amount, err)
		}
	}
}
