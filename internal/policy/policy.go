package policy

import "errors"

// Role is the access level attached to a session.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleGuest      Role = "guest"
)

var (
	ErrForbidden      = errors.New("operation not permitted for this role")
	ErrPlaybackLocked = errors.New("playback is locked")
	ErrPlaybackBusy   = errors.New("a privileged user's playback is active")
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// Privileged reports whether r may use the admin surface.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// precedence orders roles for playback override checks.
// user and guest share the bottom tier.
func precedence(r Role) int {
	switch r {
	case RoleSuperadmin:
		return 2
	case RoleAdmin:
		return 1
	default:
		return 0
	}
}

// Actor identifies who is performing an operation.
type Actor struct {
	Username string
	Role     Role
}

// Lock is the playback lock as recorded at set-time. The owner role is
// compared as stored, never re-derived from the current credential table.
type Lock struct {
	Locked   bool
	LockedBy Role
}

// Blocks reports whether the lock prevents actor from starting playback.
func (l Lock) Blocks(actor Actor) bool {
	if !l.Locked {
		return false
	}
	if l.LockedBy == RoleSuperadmin {
		return actor.Role != RoleSuperadmin
	}
	return !actor.Role.Privileged()
}

// CanStart decides whether actor may start new playback. startedBy is the
// actor that owns the currently active track (nil when the player is idle).
// Admins and superadmins always pre-empt running playback; user/guest may not
// start while a privileged role's track is active in any non-idle state.
func CanStart(actor Actor, startedBy *Actor, lock Lock) error {
	if lock.Blocks(actor) {
		return ErrPlaybackLocked
	}
	if startedBy != nil && startedBy.Role.Privileged() && !actor.Role.Privileged() {
		return ErrPlaybackBusy
	}
	return nil
}

// CanControl decides whether actor may stop, pause or resume the track
// started by startedBy. The starter keeps control of their own track, a
// superadmin controls everything, and otherwise strictly higher precedence
// is required: one admin cannot interrupt another admin's track.
func CanControl(actor Actor, startedBy Actor) error {
	if actor.Role == RoleSuperadmin {
		return nil
	}
	if actor.Username == startedBy.Username && actor.Role == startedBy.Role {
		return nil
	}
	if precedence(actor.Role) > precedence(startedBy.Role) {
		return nil
	}
	return ErrForbidden
}

// CanToggleLock decides whether actor may set or clear the playback lock.
func CanToggleLock(actor Actor) error {
	if !actor.Role.Privileged() {
		return ErrForbidden
	}
	return nil
}
