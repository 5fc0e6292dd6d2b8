package reconcile

import (
	"fmt"

	"github.com/platinummonkey/dirsync/pkg/directory"
	"github.com/platinummonkey/dirsync/pkg/extid"
)

// ExternalizeGroup runs the combined migration workflow for one local group:
// ensure the external counterpart exists, attach it as a member, and extend
// every direct user member with the external group principal. All mutations
// commit in a single transaction; any failure leaves the store untouched.
func (e *Engine) ExternalizeGroup(groupPath, idp string) (*MigrateGroupResult, error) {
	start := e.now()
	sess, err := e.openSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	localGroup, err := e.lookupGroupByPath(sess, groupPath)
	if err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}
	if localGroup.ID == directory.SystemGroupEveryone {
		return nil, fmt.Errorf("%w: %q", ErrSystemGroup, localGroup.ID)
	}

	externalGroupID := extid.Encode(localGroup.ID, idp)
	externalGroup, _, err := e.ensureExternalGroup(sess, externalGroupID, externalGroupID)
	if err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}

	res := &MigrateGroupResult{
		LocalGroupID:    localGroup.ID,
		ExternalGroupID: externalGroupID,
		ProcessedUsers:  []string{},
		SkippedGroups:   []string{},
	}

	res.ExternalGroupAdded, err = sess.AddMember(localGroup, externalGroup)
	if err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}

	it, err := sess.DeclaredMembers(localGroup)
	if err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}
	members, err := directory.Collect(it)
	if err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}

	for _, member := range members {
		if member.ID == externalGroup.ID {
			continue
		}
		if member.IsGroup {
			res.GroupMembersSkipped++
			res.SkippedGroups = append(res.SkippedGroups, member.ID)
			continue
		}

		res.UsersProcessed++
		res.ProcessedUsers = append(res.ProcessedUsers, member.ID)

		externalID, err := sess.GetProperty(member, directory.PropExternalID)
		if err != nil {
			e.observe("externalize_group", start, err)
			return nil, err
		}
		if externalID == "" {
			if err := sess.SetProperty(member, directory.PropExternalID, extid.Encode(member.ID, idp)); err != nil {
				e.observe("externalize_group", start, err)
				return nil, err
			}
			res.UsersWithExternalIDAdded++
		}

		principals, err := sess.GetMultiProperty(member, directory.PropExternalPrincipalNames)
		if err != nil {
			e.observe("externalize_group", start, err)
			return nil, err
		}
		if contains(principals, externalGroupID) {
			continue
		}
		principals = append(principals, externalGroupID)
		if err := sess.SetMultiProperty(member, directory.PropExternalPrincipalNames, principals); err != nil {
			e.observe("externalize_group", start, err)
			return nil, err
		}
		if err := e.refreshSyncTimestamps(sess, member); err != nil {
			e.observe("externalize_group", start, err)
			return nil, err
		}
		res.UsersUpdated++
	}

	if err := sess.Commit(); err != nil {
		e.observe("externalize_group", start, err)
		return nil, err
	}

	e.metrics.PrincipalsAddedTotal.Add(float64(res.UsersUpdated))
	e.observe("externalize_group", start, nil)

	e.logger.WithFields(map[string]interface{}{
		"localGroupId":    res.LocalGroupID,
		"externalGroupId": res.ExternalGroupID,
		"usersProcessed":  res.UsersProcessed,
		"usersUpdated":    res.UsersUpdated,
	}).Info("externalized group")
	return res, nil
}
