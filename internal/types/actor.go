// README: Explicit caller identity passed into every core operation.
package types

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

type Actor struct {
	ID   ID   `json:"id"`
	Role Role `json:"role"`
}

func Rider(id ID) Actor  { return Actor{ID: id, Role: RoleRider} }
func Driver(id ID) Actor { return Actor{ID: id, Role: RoleDriver} }
func Admin(id ID) Actor  { return Actor{ID: id, Role: RoleAdmin} }

// System is the actor used for collaborator callbacks such as payment settlement.
func System() Actor { return Actor{ID: "system", Role: RoleSystem} }

func (a Actor) Is(role Role) bool {
	return a.Role == role
}

func (a Actor) Valid() bool {
	switch a.Role {
	case RoleRider, RoleDriver, RoleAdmin, RoleSystem:
		return a.ID != ""
	}
	return false
}
