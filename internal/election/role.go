package election

// Role is the position a node holds in the swarm.
type Role int

const (
	RoleFollower Role = iota
	RoleMaster
)

// RoleOf converts an announced master flag to a Role.
func RoleOf(master bool) Role {
	if master {
		return RoleMaster
	}
	return RoleFollower
}

// IsMaster reports whether r is RoleMaster.
func (r Role) IsMaster() bool {
	return r == RoleMaster
}

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleFollower:
		return "follower"
	default:
		return "unknown"
	}
}
