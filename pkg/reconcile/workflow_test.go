package reconcile

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

// flakyStore wraps a real store and fails multi-property writes against one
// authorizable, simulating a mid-batch store failure.
type flakyStore struct {
	inner  directory.Store
	failOn string
}

func (s *flakyStore) OpenServiceSession(serviceUser string) (directory.Session, error) {
	sess, err := s.inner.OpenServiceSession(serviceUser)
	if err != nil {
		return nil, err
	}
	return &flakySession{Session: sess, failOn: s.failOn}, nil
}

type flakySession struct {
	directory.Session
	failOn string
}

func (s *flakySession) SetMultiProperty(a *directory.Authorizable, name string, values []string) error {
	if a.ID == s.failOn {
		return fmt.Errorf("%w: simulated write failure for %q", directory.ErrStore, a.ID)
	}
	return s.Session.SetMultiProperty(a, name, values)
}

func TestExternalizeGroup(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	res, err := engine.ExternalizeGroup("/home/groups/marketing", "saml-idp")
	require.NoError(t, err)

	assert.Equal(t, "marketing", res.LocalGroupID)
	assert.Equal(t, "marketing;saml-idp", res.ExternalGroupID)
	assert.True(t, res.ExternalGroupAdded)
	assert.Equal(t, 2, res.UsersProcessed)
	assert.Equal(t, 2, res.UsersUpdated)
	assert.Equal(t, 2, res.UsersWithExternalIDAdded)
	assert.Equal(t, 1, res.GroupMembersSkipped)
	assert.Equal(t, []string{"user1", "user2"}, res.ProcessedUsers)
	assert.Equal(t, []string{"child-group"}, res.SkippedGroups)

	assert.Equal(t, "marketing;saml-idp",
		readProperty(t, store, "marketing;saml-idp", directory.PropExternalID))
	assert.Equal(t, "user1;saml-idp", readProperty(t, store, "user1", directory.PropExternalID))
	assert.Equal(t, []string{"marketing;saml-idp"}, readPrincipals(t, store, "user1"))
	assert.Equal(t, []string{"marketing;saml-idp"}, readPrincipals(t, store, "user2"))
	assert.Empty(t, readPrincipals(t, store, "child-group"))
}

func TestExternalizeGroupIsIdempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	_, err := engine.ExternalizeGroup("/home/groups/marketing", "saml-idp")
	require.NoError(t, err)

	res, err := engine.ExternalizeGroup("/home/groups/marketing", "saml-idp")
	require.NoError(t, err)

	assert.False(t, res.ExternalGroupAdded)
	assert.Equal(t, 2, res.UsersProcessed)
	assert.Equal(t, 0, res.UsersUpdated)
	assert.Equal(t, 0, res.UsersWithExternalIDAdded)
	assert.Equal(t, []string{"marketing;saml-idp"}, readPrincipals(t, store, "user1"))
}

func TestExternalizeGroupThenStrip(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	_, err := engine.ExternalizeGroup("/home/groups/marketing", "saml-idp")
	require.NoError(t, err)

	strip, err := engine.StripDirectMembers("/home/groups/marketing")
	require.NoError(t, err)

	assert.Equal(t, 2, strip.UsersRemoved)
	assert.Equal(t, []string{"user1", "user2"}, strip.RemovedUsers)
	// child-group plus the freshly linked external group survive
	assert.Equal(t, 2, strip.GroupMembersPreserved)
	assert.Contains(t, strip.PreservedGroups, "child-group")
	assert.Contains(t, strip.PreservedGroups, "marketing;saml-idp")

	// users keep dynamic membership through their principal names
	assert.Equal(t, []string{"marketing;saml-idp"}, readPrincipals(t, store, "user1"))
	assert.Equal(t, []string{"marketing;saml-idp"}, readPrincipals(t, store, "user2"))
}

func TestExternalizeGroupErrors(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	t.Run("unknown path", func(t *testing.T) {
		_, err := engine.ExternalizeGroup("/home/groups/sales", "saml-idp")
		assert.ErrorIs(t, err, directory.ErrNotFound)
	})

	t.Run("user path", func(t *testing.T) {
		_, err := engine.ExternalizeGroup("/home/users/user1", "saml-idp")
		assert.ErrorIs(t, err, directory.ErrTypeMismatch)
	})

	t.Run("system group", func(t *testing.T) {
		_, err := engine.ExternalizeGroup("/home/groups/everyone", "saml-idp")
		assert.ErrorIs(t, err, ErrSystemGroup)
	})
}

func TestExternalizeGroupIsAtomic(t *testing.T) {
	backing, err := directory.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	seedDirectory(t, backing)

	// user2 is the second user processed; its write failure must roll back
	// the external group and user1's updates with it.
	flaky := NewEngine(&flakyStore{inner: backing, failOn: "user2"}, Config{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	_, err = flaky.ExternalizeGroup("/home/groups/marketing", "saml-idp")
	require.Error(t, err)
	assert.ErrorIs(t, err, directory.ErrStore)

	sess, err := backing.OpenServiceSession("group-provisioner")
	require.NoError(t, err)
	defer sess.Close()

	external, err := sess.FindByID("marketing;saml-idp")
	require.NoError(t, err)
	assert.Nil(t, external, "external group must not survive the failed run")

	user1, err := sess.FindByID("user1")
	require.NoError(t, err)
	require.NotNil(t, user1)
	externalID, err := sess.GetProperty(user1, directory.PropExternalID)
	require.NoError(t, err)
	assert.Empty(t, externalID, "user1 conversion must not survive the failed run")
	principals, err := sess.GetMultiProperty(user1, directory.PropExternalPrincipalNames)
	require.NoError(t, err)
	assert.Empty(t, principals, "user1 principals must not survive the failed run")
}
