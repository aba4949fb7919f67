package domain

// StaffRole enumerates staff API roles.
type StaffRole string

const (
	StaffRoleAdmin StaffRole = "ADMIN"
)

// StaffMember is an operator authenticated against the staff API.
type StaffMember struct {
	ID   string
	Name string
	Role StaffRole
}

// Actor returns the lifecycle actor for the staff member.
func (m StaffMember) Actor() Actor {
	return StaffActor(m.ID, m.Name)
}
