// Package directory provides access to the hierarchical identity store that
// holds users, groups, their properties, and membership edges.
//
// # Overview
//
// All access happens through a Session obtained from a Store under a fixed
// service identity. A session is transactional: every read and write performed
// through it belongs to one unit of work that either commits atomically via
// Commit or is discarded by Close. Callers must pair every open with Close on
// all exit paths.
//
//	sess, err := store.OpenServiceSession("group-provisioner")
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//	// ... reads and writes ...
//	return sess.Commit()
//
// # Error Taxonomy
//
// Failures are classified with sentinel errors usable with errors.Is:
//
//   - ErrNotFound: the authorizable does not exist
//   - ErrConflict: an id collision with an existing authorizable
//   - ErrTypeMismatch: a group was found where a user was expected (or vice versa)
//   - ErrStore: any underlying store failure, including commit conflicts
//   - ErrConnection: the service session could not be opened
//
// # Related Packages
//
//   - pkg/reconcile: the reconciliation engine driving all mutations
//   - pkg/extid: external identity reference encoding
package directory
