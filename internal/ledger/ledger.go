package ledger

import (
	"context"
	"database/sql"
	"math"

	"guildpay/internal/domain"
	"guildpay/internal/fault"
)

// EscrowAccount holds value locked by the system pending a release decision.
const EscrowAccount = "escrow"

// Ledger is the fund custody primitive: a balances table keyed by
// (account, currency). All movements run inside the caller's transaction and
// fail the enclosing operation when the source balance is insufficient.
type Ledger struct {
	DB *sql.DB
}

// Lock moves value from payer into system custody.
func (l Ledger) Lock(ctx context.Context, tx *sql.Tx, currency, payer string, amount int64) error {
	return l.Transfer(ctx, tx, currency, payer, EscrowAccount, amount)
}

// Release moves value out of system custody to payee.
func (l Ledger) Release(ctx context.Context, tx *sql.Tx, currency, payee string, amount int64) error {
	return l.Transfer(ctx, tx, currency, EscrowAccount, payee, amount)
}

// Transfer moves value between two accounts.
func (l Ledger) Transfer(ctx context.Context, tx *sql.Tx, currency, from, to string, amount int64) error {
	if amount <= 0 {
		return fault.Fieldf(fault.InvalidInput, "amount", "transfer amount must be positive")
	}
	if err := l.debit(ctx, tx, currency, from, amount); err != nil {
		return err
	}
	return l.credit(ctx, tx, currency, to, amount)
}

// Deposit credits an account, bringing value into the system.
func (l Ledger) Deposit(ctx context.Context, tx *sql.Tx, currency, account string, amount int64) error {
	if amount <= 0 {
		return fault.Fieldf(fault.InvalidInput, "amount", "deposit amount must be positive")
	}
	return l.credit(ctx, tx, currency, account, amount)
}

func (l Ledger) debit(ctx context.Context, tx *sql.Tx, currency, account string, amount int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE balances SET amount=amount-? WHERE account=? AND currency=? AND amount>=?`,
		amount, account, currency, amount)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fault.Fieldf(fault.Custody, "account", "insufficient balance on %s for %d %s", account, amount, currency)
	}
	return nil
}

func (l Ledger) credit(ctx context.Context, tx *sql.Tx, currency, account string, amount int64) error {
	var current int64
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account=? AND currency=?`, account, currency).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if current > math.MaxInt64-amount {
		return fault.Fieldf(fault.Overflow, "amount", "balance overflow on %s", account)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO balances(account,currency,amount) VALUES (?,?,?)
ON CONFLICT(account,currency) DO UPDATE SET amount=amount+excluded.amount`, account, currency, amount)
	return err
}

// Balance returns the current balance for an account in a currency.
func (l Ledger) Balance(ctx context.Context, currency, account string) (int64, error) {
	var amount int64
	err := l.DB.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account=? AND currency=?`, account, currency).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// BalanceTx reads a balance inside the caller's transaction.
func (l Ledger) BalanceTx(ctx context.Context, tx *sql.Tx, currency, account string) (int64, error) {
	var amount int64
	err := tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account=? AND currency=?`, account, currency).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// Balances lists all non-zero balances for an account.
func (l Ledger) Balances(ctx context.Context, account string) ([]domain.Balance, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT account,currency,amount FROM balances WHERE account=? ORDER BY currency`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Account, &b.Currency, &b.Amount); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
