package policy

import "strings"

// Credential is one statically configured login.
type Credential struct {
	Password string
	Role     Role
}

// Credentials is the static username -> credential table loaded at startup.
type Credentials map[string]Credential

// Authenticate checks username/password against the table. The username is
// lowercased and trimmed before lookup; the password compare is plain string
// equality, matching the original deployment model (no hashing, not
// timing-safe).
func (c Credentials) Authenticate(username, password string) (Role, bool) {
	name := strings.ToLower(strings.TrimSpace(username))
	cred, ok := c[name]
	if !ok {
		return "", false
	}
	if cred.Password != password {
		return "", false
	}
	return cred.Role, true
}
