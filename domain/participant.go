// Package domain contains core concepts of the negotiation system.
// This file defines Participant entities and their roles.
// No runtime, network, or storage logic should be added here.
package domain

import "fmt"

type Role string

const (
	RoleRequester Role = "requester"
	RoleWorker    Role = "worker"
)

// Roles lists every presence namespace, in lookup order.
var Roles = []Role{RoleRequester, RoleWorker}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRequester, RoleWorker:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Counterpart returns the role on the other side of a negotiation.
func (r Role) Counterpart() Role {
	if r == RoleRequester {
		return RoleWorker
	}
	return RoleRequester
}

// Participant is resolved by the external identity service and never owned here.
type Participant struct {
	ID          string
	Role        Role
	DisplayName string
	Contact     string
}
