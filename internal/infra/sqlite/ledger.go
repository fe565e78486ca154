package sqlite

import (
	"database/sql"
	"time"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Credit Ledger ──────────────────────────────────────────────────────────

// InsertLedgerEntry adds a credit ledger entry.
func (d *DB) InsertLedgerEntry(entry domain.LedgerEntry) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO credit_ledger (timestamp, type, entry_type, account, amount, task_id, description, balance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		unixOrNow(entry.Timestamp), string(entry.Type), string(entry.EntryType),
		entry.Account, entry.Amount, nullStr(entry.TaskID), nullStr(entry.Description), entry.Balance,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CreditBalance returns the last recorded balance for an account, 0 if none.
func (d *DB) CreditBalance(account string) (int64, error) {
	var balance sql.NullInt64
	err := d.db.QueryRow(
		`SELECT balance FROM credit_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Int64, nil
}

// LedgerEntries returns recent ledger entries for an account, newest first.
// An empty account returns entries for every worker.
func (d *DB) LedgerEntries(account string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, type, entry_type, account, amount, task_id, description, balance
		 FROM credit_ledger`
	args := []any{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts int64
		var taskID, desc sql.NullString
		err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntryType, &e.Account,
			&e.Amount, &taskID, &desc, &e.Balance)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.TaskID = taskID.String
		e.Description = desc.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
