// Package extid builds canonical external identity references of the form
// "localId;idpName", the value stored in rep:externalId and matched against
// rep:externalPrincipalNames for dynamic group membership.
package extid

// Encode returns the canonical external identity reference for a local id and
// an identity provider name.
//
// No escaping is performed: behavior is undefined when localID or idp contains
// ';'. Callers must guarantee their inputs are free of the separator.
func Encode(localID, idp string) string {
	return localID + ";" + idp
}
