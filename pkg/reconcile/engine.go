package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/extid"
	"github.com/platinummonkey/dirsync/pkg/observability"
)

// DefaultServiceUser is the technical identity sessions are opened under.
const DefaultServiceUser = "group-provisioner"

// DefaultSyncWindow is how far into the future the rep:lastDynamicSync and
// rep:lastSynced timestamps are pushed on every reconciliation. The far-future
// value keeps an external cleanup process from pruning dynamic memberships it
// believes are stale; the right magnitude is environment policy, hence
// configurable.
const DefaultSyncWindow = 10 * 365 * 24 * time.Hour

// ErrSystemGroup rejects operations that would externalize a system group or
// add it to a user's external principal names.
var ErrSystemGroup = errors.New("system group is excluded from externalization")

// Config tunes an Engine.
type Config struct {
	// ServiceUser is the fixed service identity used for store sessions.
	// Defaults to DefaultServiceUser.
	ServiceUser string

	// SyncWindow is the sync-timestamp extension applied on every
	// reconciliation. Defaults to DefaultSyncWindow.
	SyncWindow time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Engine converges directory state with external identity-provider group
// assertions. It holds no per-request state; concurrent calls for different
// entities are independent, and a conflicting concurrent write to the same
// entity surfaces as a store error on commit.
type Engine struct {
	store       directory.Store
	serviceUser string
	syncWindow  time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(store directory.Store, cfg Config) *Engine {
	if cfg.ServiceUser == "" {
		cfg.ServiceUser = DefaultServiceUser
	}
	if cfg.SyncWindow <= 0 {
		cfg.SyncWindow = DefaultSyncWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(nil)
	}
	return &Engine{
		store:       store,
		serviceUser: cfg.ServiceUser,
		syncWindow:  cfg.SyncWindow,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// ReconcileUserDynamicGroups converges one user's external principal names
// with its current direct group memberships for the given idp. The user is
// converted to an external user first when needed, so the externalId write
// always precedes the principal-name write within the transaction.
func (e *Engine) ReconcileUserDynamicGroups(userID, idp string) (*ReconcileResult, error) {
	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	user, err := e.lookupUser(sess, userID)
	if err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}

	res := &ReconcileResult{
		UserID:              userID,
		ProcessedGroups:     []string{},
		SkippedSystemGroups: []string{},
		AddedPrincipals:     []string{},
		SkippedPrincipals:   []string{},
	}

	externalID, err := sess.GetProperty(user, directory.PropExternalID)
	if err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}
	if externalID == "" {
		if err := sess.SetProperty(user, directory.PropExternalID, extid.Encode(userID, idp)); err != nil {
			e.observe("reconcile_user", start, err)
			return nil, err
		}
		res.UserConverted = true
	}

	principals, err := sess.GetMultiProperty(user, directory.PropExternalPrincipalNames)
	if err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}

	it, err := sess.DeclaredMemberOf(user)
	if err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}
	groups, err := directory.Collect(it)
	if err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}

	for _, g := range groups {
		if g.ID == directory.SystemGroupEveryone {
			res.SystemGroupsSkipped++
			res.SkippedSystemGroups = append(res.SkippedSystemGroups, g.ID)
			continue
		}
		res.GroupMembershipsChecked++
		res.ProcessedGroups = append(res.ProcessedGroups, g.ID)

		candidate := extid.Encode(g.ID, idp)
		if contains(principals, candidate) {
			res.PrincipalsSkipped++
			res.SkippedPrincipals = append(res.SkippedPrincipals, candidate)
			continue
		}
		principals = append(principals, candidate)
		res.PrincipalsAdded++
		res.AddedPrincipals = append(res.AddedPrincipals, candidate)
	}

	if res.PrincipalsAdded > 0 {
		if err := sess.SetMultiProperty(user, directory.PropExternalPrincipalNames, principals); err != nil {
			e.observe("reconcile_user", start, err)
			return nil, err
		}
	}

	if err := e.refreshSyncTimestamps(sess, user); err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		e.observe("reconcile_user", start, err)
		return nil, err
	}

	res.AllExternalPrincipals = principals
	if res.AllExternalPrincipals == nil {
		res.AllExternalPrincipals = []string{}
	}

	e.metrics.PrincipalsAddedTotal.Add(float64(res.PrincipalsAdded))
	e.metrics.SystemGroupsSkippedTotal.Add(float64(res.SystemGroupsSkipped))
	if res.UserConverted {
		e.metrics.UsersConvertedTotal.Inc()
	}
	e.observe("reconcile_user", start, nil)

	e.logger.WithFields(map[string]interface{}{
		"userId":          userID,
		"idp":             idp,
		"converted":       res.UserConverted,
		"principalsAdded": res.PrincipalsAdded,
	}).Info("reconciled user dynamic groups")
	return res, nil
}

// AddSinglePrincipal appends one external principal name to a user, creating
// the user and the backing external group on demand.
func (e *Engine) AddSinglePrincipal(userID, principalName, idp string) (*ProvisionResult, error) {
	if principalName == directory.SystemGroupEveryone {
		return nil, fmt.Errorf("%w: %q", ErrSystemGroup, principalName)
	}

	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	res := &ProvisionResult{UserID: userID, PrincipalName: principalName}

	_, res.GroupCreated, err = e.ensureExternalGroup(sess, principalName, extid.Encode(principalName, idp))
	if err != nil {
		e.observe("add_principal", start, err)
		return nil, err
	}

	user, created, err := e.ensureExternalUser(sess, userID, idp)
	if err != nil {
		e.observe("add_principal", start, err)
		return nil, err
	}
	res.UserCreated = created

	principals, err := sess.GetMultiProperty(user, directory.PropExternalPrincipalNames)
	if err != nil {
		e.observe("add_principal", start, err)
		return nil, err
	}
	if contains(principals, principalName) {
		res.PrincipalAlreadyExisted = true
	} else {
		principals = append(principals, principalName)
		if err := sess.SetMultiProperty(user, directory.PropExternalPrincipalNames, principals); err != nil {
			e.observe("add_principal", start, err)
			return nil, err
		}
	}

	if err := e.refreshSyncTimestamps(sess, user); err != nil {
		e.observe("add_principal", start, err)
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		e.observe("add_principal", start, err)
		return nil, err
	}

	res.AllPrincipals = principals
	if !res.PrincipalAlreadyExisted {
		e.metrics.PrincipalsAddedTotal.Inc()
	}
	e.observe("add_principal", start, nil)

	e.logger.WithFields(map[string]interface{}{
		"userId":        userID,
		"principalName": principalName,
		"userCreated":   res.UserCreated,
		"groupCreated":  res.GroupCreated,
	}).Info("provisioned external principal")
	return res, nil
}

// ExternalPrincipals returns the current external principal names of a user.
func (e *Engine) ExternalPrincipals(userID string) ([]string, error) {
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	user, err := e.lookupUser(sess, userID)
	if err != nil {
		return nil, err
	}
	principals, err := sess.GetMultiProperty(user, directory.PropExternalPrincipalNames)
	if err != nil {
		return nil, err
	}
	if principals == nil {
		principals = []string{}
	}
	return principals, nil
}

// RefreshSyncTimestamps pushes the sync timestamps of every authorizable
// carrying external principal names out by the configured window. Used by the
// maintenance sweeper.
func (e *Engine) RefreshSyncTimestamps() (*SweepResult, error) {
	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	carriers, err := sess.FindByMultiProperty(directory.PropExternalPrincipalNames)
	if err != nil {
		e.observe("sweep", start, err)
		return nil, err
	}

	res := &SweepResult{RefreshedIDs: []string{}}
	for _, a := range carriers {
		if err := e.refreshSyncTimestamps(sess, a); err != nil {
			e.observe("sweep", start, err)
			return nil, err
		}
		res.AuthorizablesRefreshed++
		res.RefreshedIDs = append(res.RefreshedIDs, a.ID)
	}

	if err := sess.Commit(); err != nil {
		e.observe("sweep", start, err)
		return nil, err
	}
	e.observe("sweep", start, nil)
	return res, nil
}

func (e *Engine) openSession() (directory.Session, error) {
	sess, err := e.store.OpenServiceSession(e.serviceUser)
	if err != nil {
		e.metrics.StoreErrorsTotal.WithLabelValues("connection").Inc()
		return nil, err
	}
	e.metrics.StoreSessionsTotal.Inc()
	return sess, nil
}

// lookupUser resolves a user id, classifying absence and group ids.
func (e *Engine) lookupUser(sess directory.Session, userID string) (*directory.Authorizable, error) {
	user, err := sess.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %q", directory.ErrNotFound, userID)
	}
	if user.IsGroup {
		return nil, fmt.Errorf("%w: %q is a group, not a user", directory.ErrTypeMismatch, userID)
	}
	return user, nil
}

// lookupGroupByPath resolves a group path, classifying absence and user paths.
func (e *Engine) lookupGroupByPath(sess directory.Session, groupPath string) (*directory.Authorizable, error) {
	group, err := sess.FindByPath(groupPath)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("%w: group at path %q", directory.ErrNotFound, groupPath)
	}
	if !group.IsGroup {
		return nil, fmt.Errorf("%w: authorizable at path %q is not a group", directory.ErrTypeMismatch, groupPath)
	}
	return group, nil
}

// ensureExternalGroup returns the group with the given id, creating it as an
// external group when absent. A user occupying the id is a conflict.
func (e *Engine) ensureExternalGroup(sess directory.Session, groupID, externalID string) (*directory.Authorizable, bool, error) {
	existing, err := sess.FindByID(groupID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !existing.IsGroup {
			return nil, false, fmt.Errorf("%w: authorizable %q exists but is not a group",
				directory.ErrConflict, groupID)
		}
		return existing, false, nil
	}

	group, err := sess.CreateGroup(groupID)
	if err != nil {
		return nil, false, err
	}
	if err := sess.SetProperty(group, directory.PropExternalID, externalID); err != nil {
		return nil, false, err
	}
	e.logger.WithFields(map[string]interface{}{
		"groupId":    groupID,
		"externalId": externalID,
	}).Info("created external group")
	return group, true, nil
}

// ensureExternalUser returns the user with the given id, creating it as an
// external user when absent. A group occupying the id is a conflict.
func (e *Engine) ensureExternalUser(sess directory.Session, userID, idp string) (*directory.Authorizable, bool, error) {
	existing, err := sess.FindByID(userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.IsGroup {
			return nil, false, fmt.Errorf("%w: authorizable %q exists but is a group, not a user",
				directory.ErrConflict, userID)
		}
		return existing, false, nil
	}

	user, err := sess.CreateUser(userID)
	if err != nil {
		return nil, false, err
	}
	externalID := extid.Encode(userID, idp)
	if err := sess.SetProperty(user, directory.PropExternalID, externalID); err != nil {
		return nil, false, err
	}
	e.logger.WithFields(map[string]interface{}{
		"userId":     userID,
		"externalId": externalID,
	}).Info("created external user")
	return user, true, nil
}

// refreshSyncTimestamps extends both sync timestamps by the configured window.
func (e *Engine) refreshSyncTimestamps(sess directory.Session, a *directory.Authorizable) error {
	expiry := e.now().Add(e.syncWindow).UTC().Format(time.RFC3339)
	if err := sess.SetProperty(a, directory.PropLastDynamicSync, expiry); err != nil {
		return err
	}
	return sess.SetProperty(a, directory.PropLastSynced, expiry)
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.metrics.StoreErrorsTotal.WithLabelValues(errorKind(err)).Inc()
	}
	e.metrics.ReconcileOperationsTotal.WithLabelValues(operation, outcome).Inc()
	e.metrics.ReconcileDuration.WithLabelValues(operation).Observe(e.now().Sub(start).Seconds())
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return "not_found"
	case errors.Is(err, directory.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, directory.ErrConflict):
		return "conflict"
	case errors.Is(err, directory.ErrConnection):
		return "connection"
	default:
		return "store"
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
