package directory

// Store opens privileged sessions against the identity store.
type Store interface {
	// OpenServiceSession obtains a session under the given fixed service
	// identity. Fails with ErrConnection when the store is unreachable.
	// Every returned session must be released with Close.
	OpenServiceSession(serviceUser string) (Session, error)
}

// Session is one transactional unit of work against the store. All reads and
// writes through a session are isolated until Commit; Close without Commit
// discards every pending write.
type Session interface {
	// UserID returns the service identity the session was opened under.
	UserID() string

	// FindByID looks up an authorizable by id. Returns (nil, nil) when absent.
	FindByID(id string) (*Authorizable, error)

	// FindByPath looks up an authorizable by its home path. Returns (nil, nil)
	// when absent.
	FindByPath(path string) (*Authorizable, error)

	// CreateUser creates a user with the given id. Fails with ErrConflict when
	// a group holds the id, ErrStore when a user already does.
	CreateUser(id string) (*Authorizable, error)

	// CreateGroup creates a group with the given id. Fails with ErrConflict
	// when a user holds the id, ErrStore when a group already does.
	CreateGroup(id string) (*Authorizable, error)

	// GetProperty reads a single-valued property. Returns "" when absent.
	GetProperty(a *Authorizable, name string) (string, error)

	// SetProperty writes a single-valued property.
	SetProperty(a *Authorizable, name, value string) error

	// GetMultiProperty reads an ordered multi-valued property. Returns an
	// empty slice when absent.
	GetMultiProperty(a *Authorizable, name string) ([]string, error)

	// SetMultiProperty replaces an ordered multi-valued property in full.
	SetMultiProperty(a *Authorizable, name string, values []string) error

	// FindByMultiProperty returns every authorizable carrying a non-empty
	// multi-valued property with the given name, in stable id order.
	FindByMultiProperty(name string) ([]*Authorizable, error)

	// AddMember adds member to group. Returns true iff the edge was newly
	// created. Fails with ErrTypeMismatch when group is not a group.
	AddMember(group, member *Authorizable) (bool, error)

	// RemoveMember removes member from group. Returns true iff the edge
	// existed.
	RemoveMember(group, member *Authorizable) (bool, error)

	// DeclaredMembers iterates the direct members of a group. The iterator is
	// forward-only and not restartable; callers needing multiple passes must
	// collect it first.
	DeclaredMembers(group *Authorizable) (MemberIterator, error)

	// DeclaredMemberOf iterates the groups an authorizable is a direct member
	// of. Same one-shot contract as DeclaredMembers.
	DeclaredMemberOf(a *Authorizable) (MemberIterator, error)

	// Commit persists every pending write atomically. Fails with ErrStore on
	// conflict; the session is unusable afterwards either way.
	Commit() error

	// Close releases the session, discarding uncommitted writes. Safe to call
	// more than once and after Commit.
	Close() error
}

// MemberIterator is a one-shot, forward-only sequence of authorizables backed
// by a live store cursor.
type MemberIterator interface {
	// Next returns the next authorizable, or (nil, false) when exhausted.
	Next() (*Authorizable, bool)

	// Err reports any failure encountered during iteration.
	Err() error

	// Close releases the cursor. Idempotent.
	Close() error
}

// Collect drains an iterator into an ordered slice and closes it.
func Collect(it MemberIterator) ([]*Authorizable, error) {
	defer it.Close()
	var out []*Authorizable
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, a)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
