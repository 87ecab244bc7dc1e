package chainbase

type undoable interface {
	Undo() error
	Squash() error
}

// TableSession is a scoped handle to the newest undo state of a single
// table. Exactly one of Push, Squash or Undo terminates it; the idiomatic
// shape is to defer Undo immediately, so that an early return rolls the
// revision back:
//
//	s, err := table.StartUndoSession(true)
//	defer s.Undo()
//	...
//	s.Push()
//
// Terminated and inert sessions ignore further calls.
type TableSession struct {
	table undoable
	armed bool
	rev   int64
}

// Revision returns the revision this session represents, or -1 for a
// session created with enabled=false.
func (s *TableSession) Revision() int64 {
	return s.rev
}

// Push disarms the session, leaving the undo state on the stack for later
// Undo, Squash or Commit calls.
func (s *TableSession) Push() {
	s.armed = false
}

// Squash merges this session's state into the prior one, then disarms.
func (s *TableSession) Squash() error {
	if !s.armed {
		return nil
	}
	s.armed = false
	return s.table.Squash()
}

// Undo rolls this session's changes back, then disarms.
func (s *TableSession) Undo() error {
	if !s.armed {
		return nil
	}
	s.armed = false
	return s.table.Undo()
}

// Transfer moves the armed state into a fresh handle, disarming the
// receiver.
func (s *TableSession) Transfer() *TableSession {
	n := &TableSession{table: s.table, armed: s.armed, rev: s.rev}
	s.armed = false
	return n
}

// Session is a composite session over every registered table. It is
// issued by Database.StartUndoSession and commits or rolls back all
// tables together.
type Session struct {
	db   *Database
	subs []*TableSession
	rev  int64
}

// Revision returns the revision captured from the first sub-session, or
// -1 when the session is inert or the database has no tables.
func (s *Session) Revision() int64 {
	return s.rev
}

// Push disarms every sub-session, retaining their undo states.
func (s *Session) Push() {
	for _, sub := range s.subs {
		sub.Push()
	}
	s.finish()
}

// Squash merges every table's newest undo state into its predecessor.
func (s *Session) Squash() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Squash(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.finish()
	return firstErr
}

// Undo rolls back every sub-session. Safe to defer: after Push or Squash
// it is a no-op.
func (s *Session) Undo() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Undo(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.finish()
	return firstErr
}

// Transfer moves the session into a fresh handle, leaving the receiver
// terminated.
func (s *Session) Transfer() *Session {
	n := &Session{db: s.db, subs: s.subs, rev: s.rev}
	s.subs, s.db = nil, nil
	return n
}

func (s *Session) finish() {
	s.subs = nil
	if s.db != nil {
		s.db.undoSessions.Add(-1)
		s.db = nil
	}
}
