package main

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Role is the secret identity dealt to a seat.
type Role string

const (
	RoleWolf     Role = "Wolf"
	RoleVillager Role = "Villager"
	RoleSeer     Role = "Seer"
	RoleWitch    Role = "Witch"
	RoleHunter   Role = "Hunter"
)

// Camp is the side a role wins with.
type Camp string

const (
	CampWolves    Camp = "wolves"
	CampVillagers Camp = "villagers"
)

// Camp reports which side the role plays for. Seer, Witch and Hunter
// win together with the plain villagers.
func (r Role) Camp() Camp {
	if r == RoleWolf {
		return CampWolves
	}
	return CampVillagers
}

// IsGod reports whether the role is one of the special villager roles.
func (r Role) IsGod() bool {
	return r == RoleSeer || r == RoleWitch || r == RoleHunter
}

// standardRoles is the only legal deal for a 9-seat table.
var standardRoles = []Role{
	RoleWolf, RoleWolf, RoleWolf,
	RoleSeer, RoleWitch, RoleHunter,
	RoleVillager, RoleVillager, RoleVillager,
}

// roleNames maps case-folded names (English and the Chinese names used by
// existing config files) to roles.
var roleNames = map[string]Role{
	"wolf":     RoleWolf,
	"werewolf": RoleWolf,
	"狼人":       RoleWolf,
	"villager": RoleVillager,
	"村民":       RoleVillager,
	"seer":     RoleSeer,
	"预言家":      RoleSeer,
	"witch":    RoleWitch,
	"女巫":       RoleWitch,
	"hunter":   RoleHunter,
	"猎人":       RoleHunter,
}

// ParseRole resolves a role name from config or an API request.
func ParseRole(name string) (Role, error) {
	key := cases.Fold().String(strings.TrimSpace(name))
	if role, ok := roleNames[key]; ok {
		return role, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, name)
}

// validateDistribution checks that roles is a permutation of standardRoles.
func validateDistribution(roles []Role) error {
	if len(roles) != SeatCount {
		return fmt.Errorf("%w: need %d seats, got %d", ErrRoleDistribution, SeatCount, len(roles))
	}
	want := make(map[Role]int)
	for _, r := range standardRoles {
		want[r]++
	}
	for _, r := range roles {
		want[r]--
	}
	for _, r := range []Role{RoleWolf, RoleSeer, RoleWitch, RoleHunter, RoleVillager} {
		if n := want[r]; n != 0 {
			return fmt.Errorf("%w: %s count off by %d (want 3 Wolf, 1 Seer, 1 Witch, 1 Hunter, 3 Villager)",
				ErrRoleDistribution, r, -n)
		}
	}
	return nil
}
