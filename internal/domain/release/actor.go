package release

// Actor identifies who ran a packaging step.
type Actor struct {
	// Hostname is the machine (or container) name where the step ran.
	Hostname string
	// Username is the system user that ran the step.
	Username string
}

// String renders user@host.
func (a *Actor) String() string {
	if a == nil {
		return ""
	}

	return a.Username + "@" + a.Hostname
}
