package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/dirsync/pkg/audit"
	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/httputil"
	"github.com/platinummonkey/dirsync/pkg/middleware"
	"github.com/platinummonkey/dirsync/pkg/reconcile"
)

// addPrincipal handles POST /group-provisioner.
func (s *Server) addPrincipal(w http.ResponseWriter, r *http.Request) {
	userID := httputil.QueryParam(r, "userId")
	if userID == "" {
		userID = middleware.CallerID(r.Context())
	}
	if userID == "" || userID == "anonymous" {
		httputil.WriteValidationError(w, "userId parameter is required")
		return
	}
	principalName := httputil.QueryParamDefault(r, "principalName", s.defaultPrincipal)
	idp := httputil.QueryParamDefault(r, "idpName", s.defaultIDP)

	res, err := s.engine.AddSinglePrincipal(userID, principalName, idp)
	s.audit(r, audit.ActionPrincipalAdd, userID, err)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success bool `json:"success"`
		*reconcile.ProvisionResult
	}{true, res})
}

// getPrincipals handles GET /group-provisioner.
func (s *Server) getPrincipals(w http.ResponseWriter, r *http.Request) {
	userID := httputil.QueryParam(r, "userId")
	if userID == "" {
		userID = middleware.CallerID(r.Context())
	}
	if userID == "" || userID == "anonymous" {
		httputil.WriteValidationError(w, "userId parameter is required")
		return
	}

	principals, err := s.engine.ExternalPrincipals(userID)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success    bool     `json:"success"`
		UserID     string   `json:"userId"`
		Principals []string `json:"externalPrincipalNames"`
	}{true, userID, principals})
}

// migrationStep1 handles POST /migration-step1.
func (s *Server) migrationStep1(w http.ResponseWriter, r *http.Request) {
	groupPath, ok := httputil.RequireQueryParam(w, r, "groupPath")
	if !ok {
		return
	}
	idp := httputil.QueryParamDefault(r, "idpName", s.defaultIDP)

	res, err := s.engine.LinkExternalGroup(groupPath, idp)
	s.audit(r, audit.ActionMigrationLink, groupPath, err)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success bool `json:"success"`
		*reconcile.LinkResult
	}{true, res})
}

// migrationStep2 handles POST /migration-step2.
func (s *Server) migrationStep2(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireQueryParam(w, r, "userId")
	if !ok {
		return
	}
	idp := httputil.QueryParamDefault(r, "idpName", s.defaultIDP)

	res, err := s.engine.ReconcileUserDynamicGroups(userID, idp)
	s.audit(r, audit.ActionUserReconcile, userID, err)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success bool `json:"success"`
		*reconcile.ReconcileResult
	}{true, res})
}

// migrationStep3 handles POST /migration-step3.
func (s *Server) migrationStep3(w http.ResponseWriter, r *http.Request) {
	groupPath, ok := httputil.RequireQueryParam(w, r, "groupPath")
	if !ok {
		return
	}

	res, err := s.engine.StripDirectMembers(groupPath)
	s.audit(r, audit.ActionMigrationStrip, groupPath, err)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success bool `json:"success"`
		*reconcile.StripResult
	}{true, res})
}

// migrateGroup handles POST /group-migration.
func (s *Server) migrateGroup(w http.ResponseWriter, r *http.Request) {
	groupPath, ok := httputil.RequireQueryParam(w, r, "groupPath")
	if !ok {
		return
	}
	idp := httputil.QueryParamDefault(r, "idpName", s.defaultIDP)

	res, err := s.engine.ExternalizeGroup(groupPath, idp)
	s.audit(r, audit.ActionGroupExternalize, groupPath, err)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	httputil.WriteSuccess(w, struct {
		Success bool `json:"success"`
		*reconcile.MigrateGroupResult
	}{true, res})
}

// writeOperationError maps engine errors onto HTTP statuses.
func (s *Server) writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, directory.ErrTypeMismatch), errors.Is(err, reconcile.ErrSystemGroup):
		httputil.WriteValidationError(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// audit records a gated mutation; audit failures are logged, never propagated.
func (s *Server) audit(r *http.Request, action, resource string, opErr error) {
	if s.trail == nil {
		return
	}
	status := audit.StatusSuccess
	if opErr != nil {
		status = audit.StatusFailure
	}
	if err := s.trail.RecordRequest(r, action, resource, status, opErr); err != nil {
		s.logger.WithError(err).WithField("action", action).Error("failed to record audit event")
	}
}

type usageResponse struct {
	Success bool   `json:"success"`
	Usage   string `json:"usage"`
}

const (
	usageStep1 = "POST /migration-step1?groupPath=/home/groups/example&idpName=saml-idp " +
		"creates the external counterpart of the group and links it as a member."
	usageStep2 = "POST /migration-step2?userId=example&idpName=saml-idp " +
		"assigns the user's direct group memberships as external principal names."
	usageStep3 = "POST /migration-step3?groupPath=/home/groups/example " +
		"removes direct user members from the group; group members are preserved. " +
		"Run step 2 for every member first, or those users lose access."
	usageGroupMigration = "POST /group-migration?groupPath=/home/groups/example&idpName=saml-idp " +
		"runs the combined externalization workflow for the group and its direct user members."
)

func (s *Server) usage(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, usageResponse{Success: true, Usage: text})
	}
}
