package relay

// AccessState is a participant's position in the edit-access lifecycle.
type AccessState string

const (
	AccessNone      AccessState = "no-access"
	AccessRequested AccessState = "access-requested"
	AccessGranted   AccessState = "access-granted"
)

// Permission tracks one connection's edit capability. The mentor is always granted.
type Permission struct {
	mentor bool
	state  AccessState
}

// NewPermission seeds the state from the persisted edit capability.
func NewPermission(mentor, canEdit bool) Permission {
	if mentor || canEdit {
		return Permission{mentor: mentor, state: AccessGranted}
	}
	return Permission{state: AccessNone}
}

// State reports the current access state.
func (p Permission) State() AccessState {
	return p.state
}

// CanEdit reports whether the connection may push edits.
func (p Permission) CanEdit() bool {
	return p.mentor || p.state == AccessGranted
}

// Request moves no-access to access-requested. It reports whether a request should be announced.
func (p Permission) Request() (Permission, bool) {
	if p.mentor || p.state == AccessGranted {
		return p, false
	}
	p.state = AccessRequested
	return p, true
}

// Grant moves any state to access-granted.
func (p Permission) Grant() Permission {
	p.state = AccessGranted
	return p
}

// Revoke moves a non-mentor back to no-access. It reports whether the state changed.
func (p Permission) Revoke() (Permission, bool) {
	if p.mentor {
		return p, false
	}
	changed := p.state != AccessNone
	p.state = AccessNone
	return p, changed
}
