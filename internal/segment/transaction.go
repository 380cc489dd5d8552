package segment

// Transaction is the two-phase append/repack handle described in §4.1 and
// the §9 redesign note "exception-based control flow for rollback":
// the original expresses commit-on-success/rollback-on-destructor through
// C++ RAII; here it is an explicit scope-guard value. Callers MUST call
// either Commit or Rollback exactly once; Close is a convenience that
// rolls back if neither was called, grounded on the teacher's
// Segment.recover()/Close() pattern of always restoring a consistent
// on-disk state before returning control to the caller.
type Transaction struct {
	Offset    int64 // destination offset assigned for this append/repack
	Size      int64 // number of bytes written
	committed bool
	rolledBack bool
	commitFn   func() error
	rollbackFn func() error
}

func NewTransaction(offset, size int64, commit, rollback func() error) *Transaction {
	return &Transaction{
		Offset:     offset,
		Size:       size,
		commitFn:   commit,
		rollbackFn: rollback,
	}
}

// Commit makes the transaction's writes durable and permanent.
func (t *Transaction) Commit() error {
	if t.committed || t.rolledBack {
		return nil
	}
	t.committed = true
	return t.commitFn()
}

// Rollback undoes the transaction's writes, restoring the pre-transaction
// state exactly.
func (t *Transaction) Rollback() error {
	if t.committed || t.rolledBack {
		return nil
	}
	t.rolledBack = true
	return t.rollbackFn()
}

// Close rolls back if the transaction was neither committed nor already
// rolled back. Safe to call unconditionally via defer after Commit.
func (t *Transaction) Close() error {
	if t.committed || t.rolledBack {
		return nil
	}
	return t.Rollback()
}
