package reconcile

import (
	"fmt"

	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/extid"
)

// LinkExternalGroup is migration phase 1: ensure the external counterpart of
// a local group exists and is a member of it. No per-user work happens here.
func (e *Engine) LinkExternalGroup(groupPath, idp string) (*LinkResult, error) {
	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	localGroup, err := e.lookupGroupByPath(sess, groupPath)
	if err != nil {
		e.observe("link_external_group", start, err)
		return nil, err
	}
	if localGroup.ID == directory.SystemGroupEveryone {
		return nil, fmt.Errorf("%w: %q", ErrSystemGroup, localGroup.ID)
	}

	externalGroupID := extid.Encode(localGroup.ID, idp)
	externalGroup, _, err := e.ensureExternalGroup(sess, externalGroupID, externalGroupID)
	if err != nil {
		e.observe("link_external_group", start, err)
		return nil, err
	}

	added, err := sess.AddMember(localGroup, externalGroup)
	if err != nil {
		e.observe("link_external_group", start, err)
		return nil, err
	}

	if err := sess.Commit(); err != nil {
		e.observe("link_external_group", start, err)
		return nil, err
	}
	e.observe("link_external_group", start, nil)

	e.logger.WithFields(map[string]interface{}{
		"localGroupId":    localGroup.ID,
		"externalGroupId": externalGroupID,
		"added":           added,
	}).Info("linked external group")

	return &LinkResult{
		LocalGroupID:               localGroup.ID,
		ExternalGroupPrincipalName: externalGroupID,
		ExternalGroupAdded:         added,
	}, nil
}

// StripDirectMembers is migration phase 3: remove every direct user member of
// a local group while preserving group members. Only safe once phase 2 has
// granted those users dynamic membership; the ordering is the caller's call.
func (e *Engine) StripDirectMembers(groupPath string) (*StripResult, error) {
	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	localGroup, err := e.lookupGroupByPath(sess, groupPath)
	if err != nil {
		e.observe("strip_direct_members", start, err)
		return nil, err
	}

	it, err := sess.DeclaredMembers(localGroup)
	if err != nil {
		e.observe("strip_direct_members", start, err)
		return nil, err
	}
	members, err := directory.Collect(it)
	if err != nil {
		e.observe("strip_direct_members", start, err)
		return nil, err
	}

	res := &StripResult{
		LocalGroupID:    localGroup.ID,
		RemovedUsers:    []string{},
		PreservedGroups: []string{},
	}

	for _, member := range members {
		if member.IsGroup {
			res.GroupMembersPreserved++
			res.PreservedGroups = append(res.PreservedGroups, member.ID)
			continue
		}
		removed, err := sess.RemoveMember(localGroup, member)
		if err != nil {
			e.observe("strip_direct_members", start, err)
			return nil, err
		}
		if removed {
			res.UsersRemoved++
			res.RemovedUsers = append(res.RemovedUsers, member.ID)
		} else {
			e.logger.WithFields(map[string]interface{}{
				"userId":  member.ID,
				"groupId": localGroup.ID,
			}).Warn("member listed but not removable")
		}
	}

	if err := sess.Commit(); err != nil {
		e.observe("strip_direct_members", start, err)
		return nil, err
	}

	e.metrics.DirectMembershipsStripped.Add(float64(res.UsersRemoved))
	e.observe("strip_direct_members", start, nil)

	e.logger.WithFields(map[string]interface{}{
		"localGroupId": res.LocalGroupID,
		"usersRemoved": res.UsersRemoved,
	}).Info("stripped direct user members")
	return res, nil
}
