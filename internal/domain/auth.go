package domain

// SubjectType differentiates who performs an action.
type SubjectType string

const (
	SubjectTypeUser   SubjectType = "USER"
	SubjectTypeStaff  SubjectType = "STAFF"
	SubjectTypeSystem SubjectType = "SYSTEM"
)

// SystemActorID is recorded as closer for automatic closes.
const SystemActorID = "system"

// Actor is whoever triggered a lifecycle operation.
type Actor struct {
	ID   string
	Name string
	Type SubjectType
}

// SystemActor is the actor used by background work.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Name: "System", Type: SubjectTypeSystem}
}

// StaffActor builds a staff actor.
func StaffActor(id, name string) Actor {
	return Actor{ID: id, Name: name, Type: SubjectTypeStaff}
}

// UserActor builds an end-user actor.
func UserActor(id, name string) Actor {
	return Actor{ID: id, Name: name, Type: SubjectTypeUser}
}
