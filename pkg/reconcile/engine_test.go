package reconcile

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

func newTestEngine(t *testing.T) (*Engine, *directory.SQLiteStore) {
	t.Helper()
	store, err := directory.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := NewEngine(store, Config{
		SyncWindow: 30 * 24 * time.Hour,
		Logger:     observability.NewLogger(observability.ErrorLevel, io.Discard),
	})
	return engine, store
}

// seedDirectory creates the marketing/engineering fixture:
// user1 in marketing, engineering and everyone; user2 in marketing and
// everyone; loner only in everyone; child-group a member of marketing.
func seedDirectory(t *testing.T, store *directory.SQLiteStore) {
	t.Helper()
	sess, err := store.OpenServiceSession("group-provisioner")
	require.NoError(t, err)
	defer sess.Close()

	everyone, err := sess.CreateGroup("everyone")
	require.NoError(t, err)
	marketing, err := sess.CreateGroup("marketing")
	require.NoError(t, err)
	engineering, err := sess.CreateGroup("engineering")
	require.NoError(t, err)
	child, err := sess.CreateGroup("child-group")
	require.NoError(t, err)

	user1, err := sess.CreateUser("user1")
	require.NoError(t, err)
	user2, err := sess.CreateUser("user2")
	require.NoError(t, err)
	loner, err := sess.CreateUser("loner")
	require.NoError(t, err)

	for _, m := range []*directory.Authorizable{user1, user2, loner} {
		_, err = sess.AddMember(everyone, m)
		require.NoError(t, err)
	}
	_, err = sess.AddMember(marketing, user1)
	require.NoError(t, err)
	_, err = sess.AddMember(marketing, user2)
	require.NoError(t, err)
	_, err = sess.AddMember(marketing, child)
	require.NoError(t, err)
	_, err = sess.AddMember(engineering, user1)
	require.NoError(t, err)

	require.NoError(t, sess.Commit())
}

func readProperty(t *testing.T, store *directory.SQLiteStore, id, name string) string {
	t.Helper()
	sess, err := store.OpenServiceSession("group-provisioner")
	require.NoError(t, err)
	defer sess.Close()
	a, err := sess.FindByID(id)
	require.NoError(t, err)
	require.NotNil(t, a)
	v, err := sess.GetProperty(a, name)
	require.NoError(t, err)
	return v
}

func readPrincipals(t *testing.T, store *directory.SQLiteStore, id string) []string {
	t.Helper()
	sess, err := store.OpenServiceSession("group-provisioner")
	require.NoError(t, err)
	defer sess.Close()
	a, err := sess.FindByID(id)
	require.NoError(t, err)
	require.NotNil(t, a)
	v, err := sess.GetMultiProperty(a, directory.PropExternalPrincipalNames)
	require.NoError(t, err)
	return v
}

func TestReconcileUserDynamicGroups(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	res, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)

	assert.True(t, res.UserConverted)
	assert.Equal(t, 2, res.GroupMembershipsChecked)
	assert.Equal(t, 1, res.SystemGroupsSkipped)
	assert.Equal(t, 2, res.PrincipalsAdded)
	assert.Equal(t, 0, res.PrincipalsSkipped)
	assert.ElementsMatch(t, []string{"marketing;saml-idp", "engineering;saml-idp"}, res.AddedPrincipals)
	assert.Equal(t, []string{"everyone"}, res.SkippedSystemGroups)

	assert.Equal(t, "user1;saml-idp", readProperty(t, store, "user1", directory.PropExternalID))
	assert.Equal(t, res.AllExternalPrincipals, readPrincipals(t, store, "user1"))
}

func TestReconcileIsIdempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	first, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)
	require.Equal(t, 2, first.PrincipalsAdded)

	second, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)

	assert.Equal(t, 0, second.PrincipalsAdded)
	assert.Equal(t, 2, second.PrincipalsSkipped)
	assert.False(t, second.UserConverted)
	assert.Equal(t, first.AllExternalPrincipals, second.AllExternalPrincipals)
	assert.Equal(t, first.AllExternalPrincipals, readPrincipals(t, store, "user1"))
}

func TestReconcileNeverDuplicatesPrincipals(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	for i := 0; i < 5; i++ {
		_, err := engine.ReconcileUserDynamicGroups("user2", "saml-idp")
		require.NoError(t, err)
	}

	principals := readPrincipals(t, store, "user2")
	seen := map[string]int{}
	for _, p := range principals {
		seen[p]++
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "principal %q appears %d times", p, n)
	}
	assert.Equal(t, []string{"marketing;saml-idp"}, principals)
}

func TestReconcileSkipsSystemGroupOnlyUser(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	res, err := engine.ReconcileUserDynamicGroups("loner", "saml-idp")
	require.NoError(t, err)

	assert.Equal(t, 0, res.PrincipalsAdded)
	assert.Equal(t, 1, res.SystemGroupsSkipped)
	assert.Equal(t, 0, res.GroupMembershipsChecked)
	assert.Empty(t, res.AllExternalPrincipals)
	assert.Empty(t, readPrincipals(t, store, "loner"))
}

func TestReconcilePreservesExistingExternalID(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	sess, err := store.OpenServiceSession("group-provisioner")
	require.NoError(t, err)
	user, err := sess.FindByID("user1")
	require.NoError(t, err)
	require.NoError(t, sess.SetProperty(user, directory.PropExternalID, "user1;other-idp"))
	require.NoError(t, sess.Commit())

	res, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)

	assert.False(t, res.UserConverted)
	assert.Equal(t, "user1;other-idp", readProperty(t, store, "user1", directory.PropExternalID))
}

func TestReconcileRefreshesSyncTimestamps(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	before := time.Now()
	_, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)

	for _, prop := range []string{directory.PropLastDynamicSync, directory.PropLastSynced} {
		raw := readProperty(t, store, "user1", prop)
		require.NotEmpty(t, raw, prop)
		ts, err := time.Parse(time.RFC3339, raw)
		require.NoError(t, err)
		// 30 day window configured in newTestEngine
		assert.True(t, ts.After(before.Add(29*24*time.Hour)), "%s=%s not pushed out", prop, raw)
	}
}

func TestReconcileErrors(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	t.Run("unknown user", func(t *testing.T) {
		_, err := engine.ReconcileUserDynamicGroups("nobody", "saml-idp")
		require.Error(t, err)
		assert.ErrorIs(t, err, directory.ErrNotFound)
	})

	t.Run("group where user expected", func(t *testing.T) {
		_, err := engine.ReconcileUserDynamicGroups("marketing", "saml-idp")
		require.Error(t, err)
		assert.ErrorIs(t, err, directory.ErrTypeMismatch)
	})
}

func TestAddSinglePrincipal(t *testing.T) {
	engine, store := newTestEngine(t)

	t.Run("creates user and group on demand", func(t *testing.T) {
		res, err := engine.AddSinglePrincipal("testuser", "marketing:saml-idp", "saml-idp")
		require.NoError(t, err)

		assert.True(t, res.UserCreated)
		assert.True(t, res.GroupCreated)
		assert.False(t, res.PrincipalAlreadyExisted)
		assert.Equal(t, []string{"marketing:saml-idp"}, res.AllPrincipals)

		assert.Equal(t, "testuser;saml-idp", readProperty(t, store, "testuser", directory.PropExternalID))
		assert.Equal(t, "marketing:saml-idp;saml-idp",
			readProperty(t, store, "marketing:saml-idp", directory.PropExternalID))
		assert.Equal(t, []string{"marketing:saml-idp"}, readPrincipals(t, store, "testuser"))
	})

	t.Run("second invocation is a no-op reported distinctly", func(t *testing.T) {
		res, err := engine.AddSinglePrincipal("testuser", "marketing:saml-idp", "saml-idp")
		require.NoError(t, err)

		assert.False(t, res.UserCreated)
		assert.False(t, res.GroupCreated)
		assert.True(t, res.PrincipalAlreadyExisted)
		assert.Equal(t, []string{"marketing:saml-idp"}, readPrincipals(t, store, "testuser"))
	})

	t.Run("rejects the system group", func(t *testing.T) {
		_, err := engine.AddSinglePrincipal("testuser", "everyone", "saml-idp")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSystemGroup)
	})
}

func TestAddSinglePrincipalConflicts(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	t.Run("principal name held by a user", func(t *testing.T) {
		_, err := engine.AddSinglePrincipal("testuser", "user1", "saml-idp")
		require.Error(t, err)
		assert.ErrorIs(t, err, directory.ErrConflict)
	})

	t.Run("user id held by a group", func(t *testing.T) {
		_, err := engine.AddSinglePrincipal("marketing", "some-principal", "saml-idp")
		require.Error(t, err)
		assert.ErrorIs(t, err, directory.ErrConflict)
	})
}

func TestExternalPrincipals(t *testing.T) {
	engine, store := newTestEngine(t)
	seedDirectory(t, store)

	principals, err := engine.ExternalPrincipals("user1")
	require.NoError(t, err)
	assert.Empty(t, principals)

	_, err = engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)

	principals, err = engine.ExternalPrincipals("user1")
	require.NoError(t, err)
	assert.Equal(t, []string{"marketing;saml-idp", "engineering;saml-idp"}, principals)

	_, err = engine.ExternalPrincipals("nobody")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

// recordingStore wraps a real store and journals every property write made
// through its sessions, in call order.
type recordingStore struct {
	inner  directory.Store
	writes *[]string
}

func (s *recordingStore) OpenServiceSession(serviceUser string) (directory.Session, error) {
	sess, err := s.inner.OpenServiceSession(serviceUser)
	if err != nil {
		return nil, err
	}
	return &recordingSession{Session: sess, writes: s.writes}, nil
}

type recordingSession struct {
	directory.Session
	writes *[]string
}

func (s *recordingSession) SetProperty(a *directory.Authorizable, name, value string) error {
	*s.writes = append(*s.writes, a.ID+"/"+name)
	return s.Session.SetProperty(a, name, value)
}

func (s *recordingSession) SetMultiProperty(a *directory.Authorizable, name string, values []string) error {
	*s.writes = append(*s.writes, a.ID+"/"+name)
	return s.Session.SetMultiProperty(a, name, values)
}

func TestReconcileWritesExternalIDBeforePrincipals(t *testing.T) {
	backing, err := directory.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })
	seedDirectory(t, backing)

	var writes []string
	engine := NewEngine(&recordingStore{inner: backing, writes: &writes}, Config{
		Logger: observability.NewLogger(observability.ErrorLevel, io.Discard),
	})

	res, err := engine.ReconcileUserDynamicGroups("user1", "saml-idp")
	require.NoError(t, err)
	require.True(t, res.UserConverted)

	idWrite := indexOf(writes, "user1/"+directory.PropExternalID)
	principalsWrite := indexOf(writes, "user1/"+directory.PropExternalPrincipalNames)
	require.GreaterOrEqual(t, idWrite, 0, "conversion never wrote the external id")
	require.GreaterOrEqual(t, principalsWrite, 0, "reconciliation never wrote principal names")
	assert.Less(t, idWrite, principalsWrite,
		"external id must be written before principal names: %v", writes)
}

func indexOf(values []string, s string) int {
	for i, v := range values {
		if v == s {
			return i
		}
	}
	return -1
}
