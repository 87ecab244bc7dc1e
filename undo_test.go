package chainbase

import (
	"errors"
	"testing"
)

func TestUndoOnDrop(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	func() {
		s := must(db.StartUndoSession(true))
		defer s.Undo()
		acct := newAccount(t, accounts, "alice", 100)
		deepEqual(t, acct.ID, ID(0))
		// no Push: the deferred Undo rolls the whole session back
	}()

	isnil(t, accounts.Find(0))
	deepEqual(t, accounts.NextID(), ID(0))
	deepEqual(t, accounts.Revision(), int64(0))
}

func TestPushAndCommit(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s := must(db.StartUndoSession(true))
	defer s.Undo()
	newAccount(t, accounts, "alice", 100)
	s.Push()

	db.Commit(s.Revision())
	deepEqual(t, len(accounts.stack), 0)

	// With the revision committed, undo has nothing to unwind.
	ensure(db.Undo())
	got := must(accounts.Get(0))
	deepEqual(t, got.Balance, uint64(100))
}

func TestModifyThenUndo(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	acct := newAccount(t, accounts, "alice", 10)

	s := must(db.StartUndoSession(true))
	defer s.Undo()
	ensure(accounts.Modify(acct, func(a *Account) error {
		a.Balance = 20
		return nil
	}))
	ensure(accounts.Modify(acct, func(a *Account) error {
		a.Balance = 30
		return nil
	}))

	// The pre-image is captured on the first write only.
	head := accounts.head()
	deepEqual(t, len(head.oldValues), 1)
	deepEqual(t, head.oldValues[0].Balance, uint64(10))

	ensure(s.Undo())
	deepEqual(t, acct.Balance, uint64(10))
	if accounts.Find(0) != acct {
		t.Errorf("undo must restore in place, keeping the reference stable")
	}
}

func TestCreateRemoveSameSession(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s := must(db.StartUndoSession(true))
	defer s.Undo()
	acct := newAccount(t, accounts, "alice", 1)
	ensure(accounts.Remove(acct))

	head := accounts.head()
	deepEqual(t, len(head.newIDs), 0)
	deepEqual(t, len(head.oldValues), 0)
	deepEqual(t, len(head.removedValues), 0)
}

func TestNextIDRestoredByUndoNotByRemove(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	newAccount(t, accounts, "alice", 1)

	s := must(db.StartUndoSession(true))
	newAccount(t, accounts, "bob", 2)
	deepEqual(t, accounts.NextID(), ID(2))
	ensure(s.Undo())
	deepEqual(t, accounts.NextID(), ID(1))

	// The undone id 1 is assigned again; once committed, a create that was
	// removed leaves a permanent gap.
	s2 := must(db.StartUndoSession(true))
	carol := newAccount(t, accounts, "carol", 3)
	deepEqual(t, carol.ID, ID(1))
	ensure(accounts.Remove(carol))
	s2.Push()
	db.Commit(s2.Revision())
	deepEqual(t, accounts.NextID(), ID(2))
}

func TestUndoRestoresRemoved(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	acct := newAccount(t, accounts, "alice", 10)
	_ = acct

	s := must(db.StartUndoSession(true))
	ensure(accounts.RemoveObject(0))
	isnil(t, accounts.FindBy(accountsByName, "alice"))
	ensure(s.Undo())

	got := must(accounts.Get(0))
	deepEqual(t, got.Name, "alice")
	deepEqual(t, got.Balance, uint64(10))
	if accounts.FindBy(accountsByName, "alice") != got {
		t.Errorf("secondary index not restored with the object")
	}
}

func TestModifyThenRemoveKeepsOldestPreimage(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	acct := newAccount(t, accounts, "alice", 10)

	s := must(db.StartUndoSession(true))
	ensure(accounts.Modify(acct, func(a *Account) error {
		a.Balance = 99
		return nil
	}))
	ensure(accounts.Remove(acct))

	head := accounts.head()
	deepEqual(t, len(head.oldValues), 0)
	deepEqual(t, head.removedValues[0].Balance, uint64(10))

	ensure(s.Undo())
	deepEqual(t, must(accounts.Get(0)).Balance, uint64(10))
}

// dumpAccounts snapshots the live state for round-trip comparisons.
func dumpAccounts(tbl *Table[Account]) (map[ID]Account, ID, int64) {
	out := make(map[ID]Account)
	tbl.mi.ascend(func(id ID, row *Account) bool {
		out[id] = *row
		return true
	})
	return out, tbl.nextID, tbl.revision
}

func TestUndoRoundTrip(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	newAccount(t, accounts, "alice", 10)
	bob := newAccount(t, accounts, "bob", 20)
	carol := newAccount(t, accounts, "carol", 30)

	objs, next, rev := dumpAccounts(accounts)

	s := must(db.StartUndoSession(true))
	ensure(accounts.Modify(bob, func(a *Account) error {
		a.Name = "robert"
		a.Balance = 21
		return nil
	}))
	ensure(accounts.Remove(carol))
	newAccount(t, accounts, "dave", 40)
	ensure(accounts.Modify(bob, func(a *Account) error {
		a.Balance = 22
		return nil
	}))
	checkUndoStateDisjoint(t, accounts)
	ensure(s.Undo())

	objs2, next2, rev2 := dumpAccounts(accounts)
	deepEqual(t, objs2, objs)
	deepEqual(t, next2, next)
	deepEqual(t, rev2, rev)
	if accounts.FindBy(accountsByName, "robert") != nil {
		t.Errorf("stale index entry survived undo")
	}
	if accounts.FindBy(accountsByName, "carol") == nil {
		t.Errorf("index entry for restored object missing")
	}
}

// checkUndoStateDisjoint asserts that for every undo state the three id
// containers are pairwise disjoint.
func checkUndoStateDisjoint(t testing.TB, tbl *Table[Account]) {
	t.Helper()
	for _, st := range tbl.stack {
		for id := range st.newIDs {
			if _, ok := st.oldValues[id]; ok {
				t.Errorf("id %d in both newIDs and oldValues", id)
			}
			if _, ok := st.removedValues[id]; ok {
				t.Errorf("id %d in both newIDs and removedValues", id)
			}
		}
		for id := range st.oldValues {
			if _, ok := st.removedValues[id]; ok {
				t.Errorf("id %d in both oldValues and removedValues", id)
			}
		}
	}
}

func TestUndoAll(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s1 := must(db.StartUndoSession(true))
	newAccount(t, accounts, "alice", 1)
	s1.Push()
	s2 := must(db.StartUndoSession(true))
	newAccount(t, accounts, "bob", 2)
	s2.Push()
	deepEqual(t, accounts.Revision(), int64(2))

	ensure(db.UndoAll())
	deepEqual(t, accounts.Len(), 0)
	deepEqual(t, accounts.Revision(), int64(0))
	deepEqual(t, accounts.NextID(), ID(0))
}

func TestCommitIsMonotone(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s1 := must(db.StartUndoSession(true))
	newAccount(t, accounts, "alice", 1)
	s1.Push()
	s2 := must(db.StartUndoSession(true))
	newAccount(t, accounts, "bob", 2)
	s2.Push()

	db.Commit(s1.Revision())
	ensure(db.UndoAll())

	// Revision 1 is committed; only revision 2 could be unwound.
	if accounts.Find(0) == nil {
		t.Errorf("undo clobbered a committed revision")
	}
	isnil(t, accounts.Find(1))
}

func TestSetRevision(t *testing.T) {
	db := setup(t)
	registerAccounts(t, db)

	ensure(db.SetRevision(42))
	deepEqual(t, db.Revision(), int64(42))

	s := must(db.StartUndoSession(true))
	defer s.Undo()
	err := db.SetRevision(7)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("** got %v, wanted ErrInvalidState", err)
	}
}

func TestMutatorErrorRestoresRow(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	acct := newAccount(t, accounts, "alice", 10)

	boom := errors.New("boom")
	err := accounts.Modify(acct, func(a *Account) error {
		a.Balance = 999
		return boom
	})
	iserr(t, err, boom)
	deepEqual(t, acct.Balance, uint64(10))
}
