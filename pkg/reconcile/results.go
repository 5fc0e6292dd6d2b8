package reconcile

// ReconcileResult reports one ReconcileUserDynamicGroups run.
type ReconcileResult struct {
	UserID                  string   `json:"userId"`
	UserConverted           bool     `json:"userConverted"`
	GroupMembershipsChecked int      `json:"groupMembershipsChecked"`
	SystemGroupsSkipped     int      `json:"systemGroupsSkipped"`
	PrincipalsAdded         int      `json:"principalsAdded"`
	PrincipalsSkipped       int      `json:"principalsSkipped"`
	ProcessedGroups         []string `json:"processedGroups"`
	SkippedSystemGroups     []string `json:"skippedSystemGroups"`
	AddedPrincipals         []string `json:"addedPrincipals"`
	SkippedPrincipals       []string `json:"skippedPrincipals"`
	AllExternalPrincipals   []string `json:"allExternalPrincipals"`
}

// ProvisionResult reports one AddSinglePrincipal run.
type ProvisionResult struct {
	UserID                  string   `json:"userId"`
	PrincipalName           string   `json:"principalName"`
	UserCreated             bool     `json:"userCreated"`
	GroupCreated            bool     `json:"groupCreated"`
	PrincipalAlreadyExisted bool     `json:"principalAlreadyExisted"`
	AllPrincipals           []string `json:"allPrincipals"`
}

// LinkResult reports one LinkExternalGroup run (migration phase 1).
type LinkResult struct {
	LocalGroupID               string `json:"localGroupId"`
	ExternalGroupPrincipalName string `json:"externalGroupPrincipalName"`
	ExternalGroupAdded         bool   `json:"externalGroupAdded"`
}

// StripResult reports one StripDirectMembers run (migration phase 3).
type StripResult struct {
	LocalGroupID          string   `json:"localGroupId"`
	UsersRemoved          int      `json:"usersRemoved"`
	GroupMembersPreserved int      `json:"groupMembersPreserved"`
	RemovedUsers          []string `json:"removedUsers"`
	PreservedGroups       []string `json:"preservedGroups"`
}

// MigrateGroupResult reports one ExternalizeGroup run (combined workflow).
type MigrateGroupResult struct {
	LocalGroupID             string   `json:"localGroupId"`
	ExternalGroupID          string   `json:"externalGroupId"`
	ExternalGroupAdded       bool     `json:"externalGroupAdded"`
	UsersProcessed           int      `json:"usersProcessed"`
	UsersUpdated             int      `json:"usersUpdated"`
	UsersWithExternalIDAdded int      `json:"usersWithExternalIdAdded"`
	GroupMembersSkipped      int      `json:"groupMembersSkipped"`
	ProcessedUsers           []string `json:"processedUsers"`
	SkippedGroups            []string `json:"skippedGroups"`
}

// SweepResult reports one sync-timestamp refresh sweep.
type SweepResult struct {
	AuthorizablesRefreshed int      `json:"authorizablesRefreshed"`
	RefreshedIDs           []string `json:"refreshedIds"`
}
