// Package reconcile implements the external-principal reconciliation engine:
// the idempotent operations that convert local directory users and groups into
// externally-federated ones and keep local group membership converged with
// identity-provider group assertions.
//
// # Operations
//
// Engine methods map one-to-one to the service endpoints:
//
//   - AddSinglePrincipal: ensure user and backing external group exist, append
//     one principal name (group provisioner)
//   - ReconcileUserDynamicGroups: converge a user's
//     rep:externalPrincipalNames with its direct group memberships (phase 2)
//   - LinkExternalGroup: create the external counterpart of a local group and
//     attach it as a member (phase 1)
//   - StripDirectMembers: remove direct user members from a group once
//     dynamic membership is in place (phase 3)
//   - ExternalizeGroup: the combined workflow over one local group
//
// Every operation opens exactly one directory session, mutates, commits once,
// and releases the session on all paths. Idempotence is part of the contract:
// re-running a completed operation reports zero changes rather than failing.
//
// Phase 3 must not run before phase 2 for the same population or the affected
// users lose access until the idp assertion is re-evaluated; that ordering is
// the caller's responsibility.
//
// # Related Packages
//
//   - pkg/directory: the store sessions all mutations flow through
//   - pkg/extid: the "localId;idp" reference encoding
package reconcile
