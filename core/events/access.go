package events

import "chatten/core/types"

const (
	// TypePaused is emitted when all mutating operations are suspended.
	TypePaused = "access.paused"
	// TypeResumed is emitted when the pause flag is cleared.
	TypeResumed = "access.resumed"
	// TypeRoleChanged is emitted for every role grant or revocation.
	TypeRoleChanged = "access.role"
)

type Paused struct {
	By types.Address
}

func (Paused) EventType() string { return TypePaused }

func (e Paused) Event() *types.Event {
	return &types.Event{Type: TypePaused, Attributes: map[string]string{
		"by": types.FormatAddress(e.By),
	}}
}

type Resumed struct {
	By types.Address
}

func (Resumed) EventType() string { return TypeResumed }

func (e Resumed) Event() *types.Event {
	return &types.Event{Type: TypeResumed, Attributes: map[string]string{
		"by": types.FormatAddress(e.By),
	}}
}

type RoleChanged struct {
	Role    string
	Address types.Address
	Granted bool
}

func (RoleChanged) EventType() string { return TypeRoleChanged }

func (e RoleChanged) Event() *types.Event {
	granted := "false"
	if e.Granted {
		granted = "true"
	}
	return &types.Event{Type: TypeRoleChanged, Attributes: map[string]string{
		"role":    e.Role,
		"address": types.FormatAddress(e.Address),
		"granted": granted,
	}}
}
