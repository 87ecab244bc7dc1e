package chainbase

import "testing"

func TestSquashCreateThenModify(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s1 := must(db.StartUndoSession(true))
	acct := newAccount(t, accounts, "alice", 10)
	s1.Push()

	s2 := must(db.StartUndoSession(true))
	ensure(accounts.Modify(acct, func(a *Account) error {
		a.Balance = 20
		return nil
	}))
	newAccount(t, accounts, "bob", 30)
	ensure(s2.Squash())

	deepEqual(t, len(accounts.stack), 1)
	head := accounts.head()
	deepEqual(t, len(head.newIDs), 2)
	deepEqual(t, len(head.oldValues), 0)
	deepEqual(t, len(head.removedValues), 0)
	deepEqual(t, accounts.Revision(), int64(1))

	ensure(db.Undo())
	deepEqual(t, accounts.Len(), 0)
	deepEqual(t, accounts.NextID(), ID(0))
}

func TestSquashUndoLaw(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	alice := newAccount(t, accounts, "alice", 10)
	bob := newAccount(t, accounts, "bob", 20)

	objs, next, rev := dumpAccounts(accounts)

	outer := must(db.StartUndoSession(true))
	ensure(accounts.Modify(alice, func(a *Account) error {
		a.Balance = 11
		return nil
	}))
	inner := must(db.StartUndoSession(true))
	ensure(accounts.Modify(alice, func(a *Account) error {
		a.Balance = 12
		return nil
	}))
	ensure(accounts.Remove(bob))
	newAccount(t, accounts, "carol", 30)
	ensure(inner.Squash())
	ensure(outer.Undo())

	objs2, next2, rev2 := dumpAccounts(accounts)
	deepEqual(t, objs2, objs)
	deepEqual(t, next2, next)
	deepEqual(t, rev2, rev)
}

// TestSquashMergeCases drives several reachable cells of the merge table
// and checks both the merged undo state and the result of undoing it.
func TestSquashMergeCases(t *testing.T) {
	t.Run("new then modify stays new", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)

		s1 := must(db.StartUndoSession(true))
		acct := newAccount(t, accounts, "alice", 1)
		s2 := must(db.StartUndoSession(true))
		ensure(accounts.Modify(acct, func(a *Account) error {
			a.Balance = 2
			return nil
		}))
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, len(head.newIDs), 1)
		deepEqual(t, len(head.oldValues), 0)
		ensure(s1.Undo())
		deepEqual(t, accounts.Len(), 0)
	})

	t.Run("new then remove nets out", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)

		s1 := must(db.StartUndoSession(true))
		acct := newAccount(t, accounts, "alice", 1)
		s2 := must(db.StartUndoSession(true))
		ensure(accounts.Remove(acct))
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, len(head.newIDs), 0)
		deepEqual(t, len(head.oldValues), 0)
		deepEqual(t, len(head.removedValues), 0)
		ensure(s1.Undo())
	})

	t.Run("modify then modify keeps oldest preimage", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)
		acct := newAccount(t, accounts, "alice", 1)

		s1 := must(db.StartUndoSession(true))
		ensure(accounts.Modify(acct, func(a *Account) error {
			a.Balance = 2
			return nil
		}))
		s2 := must(db.StartUndoSession(true))
		ensure(accounts.Modify(acct, func(a *Account) error {
			a.Balance = 3
			return nil
		}))
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, head.oldValues[0].Balance, uint64(1))
		ensure(s1.Undo())
		deepEqual(t, acct.Balance, uint64(1))
	})

	t.Run("modify then remove keeps oldest preimage", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)
		acct := newAccount(t, accounts, "alice", 1)

		s1 := must(db.StartUndoSession(true))
		ensure(accounts.Modify(acct, func(a *Account) error {
			a.Balance = 2
			return nil
		}))
		s2 := must(db.StartUndoSession(true))
		ensure(accounts.Remove(acct))
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, len(head.oldValues), 0)
		deepEqual(t, head.removedValues[0].Balance, uint64(1))
		ensure(s1.Undo())
		deepEqual(t, must(accounts.Get(0)).Balance, uint64(1))
	})

	t.Run("untouched then remove copies forward", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)
		newAccount(t, accounts, "alice", 1)

		s1 := must(db.StartUndoSession(true))
		s2 := must(db.StartUndoSession(true))
		ensure(accounts.RemoveObject(0))
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, head.removedValues[0].Balance, uint64(1))
		ensure(s1.Undo())
		deepEqual(t, must(accounts.Get(0)).Balance, uint64(1))
	})

	t.Run("remove then untouched carries removal down", func(t *testing.T) {
		db := setup(t)
		accounts := registerAccounts(t, db)
		newAccount(t, accounts, "alice", 1)

		s1 := must(db.StartUndoSession(true))
		ensure(accounts.RemoveObject(0))
		s2 := must(db.StartUndoSession(true))
		newAccount(t, accounts, "bob", 2)
		ensure(s2.Squash())

		head := accounts.head()
		deepEqual(t, head.removedValues[0].Name, "alice")
		deepEqual(t, len(head.newIDs), 1)
		ensure(s1.Undo())
		deepEqual(t, must(accounts.Get(0)).Name, "alice")
		isnil(t, accounts.Find(1))
	})
}

// Squashing a single-element stack drops the state without rolling back,
// committing the bottom-most revision; the revision counter stays put.
func TestSquashSingleState(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)

	s := must(db.StartUndoSession(true))
	newAccount(t, accounts, "alice", 1)
	ensure(s.Squash())

	deepEqual(t, len(accounts.stack), 0)
	deepEqual(t, accounts.Revision(), int64(1))
	deepEqual(t, must(accounts.Get(0)).Balance, uint64(1))

	ensure(db.Undo())
	deepEqual(t, accounts.Len(), 1)
}

func TestSquashDisjointInvariant(t *testing.T) {
	db := setup(t)
	accounts := registerAccounts(t, db)
	alice := newAccount(t, accounts, "alice", 1)
	newAccount(t, accounts, "bob", 2)

	s1 := must(db.StartUndoSession(true))
	ensure(accounts.Modify(alice, func(a *Account) error {
		a.Balance = 10
		return nil
	}))
	newAccount(t, accounts, "carol", 3)
	s2 := must(db.StartUndoSession(true))
	ensure(accounts.Remove(alice))
	ensure(accounts.RemoveObject(1))
	ensure(accounts.RemoveObject(2))
	newAccount(t, accounts, "dave", 4)
	ensure(s2.Squash())

	checkUndoStateDisjoint(t, accounts)
	ensure(s1.Undo())
	deepEqual(t, must(accounts.Get(0)).Balance, uint64(1))
	deepEqual(t, must(accounts.Get(1)).Name, "bob")
}
