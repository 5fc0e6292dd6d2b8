package directory

// Reserved property names. Everything this subsystem persists lives under the
// "rep:" namespace.
const (
	PropExternalID             = "rep:externalId"
	PropExternalPrincipalNames = "rep:externalPrincipalNames"
	PropLastDynamicSync        = "rep:lastDynamicSync"
	PropLastSynced             = "rep:lastSynced"
)

// SystemGroupEveryone is the built-in group every authorizable belongs to.
// It is never externalized and never appears in rep:externalPrincipalNames.
const SystemGroupEveryone = "everyone"

// Authorizable is a user or group principal in the directory store.
type Authorizable struct {
	ID      string
	Path    string
	IsGroup bool
}
