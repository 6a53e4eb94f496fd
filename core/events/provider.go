package events

import (
	"math/big"

	"chatten/core/types"
)

const (
	// TypeProviderRegistered is emitted when a compute supplier registers.
	TypeProviderRegistered = "provider.registered"
	// TypeProviderReward is emitted when rewards are minted to a provider.
	TypeProviderReward = "provider.reward"
	// TypeProviderReputation is emitted when a trusted role adjusts a
	// provider's reputation score.
	TypeProviderReputation = "provider.reputation"
)

type ProviderRegistered struct {
	Provider types.Address
	Name     string
	Region   string
}

func (ProviderRegistered) EventType() string { return TypeProviderRegistered }

func (e ProviderRegistered) Event() *types.Event {
	return &types.Event{Type: TypeProviderRegistered, Attributes: map[string]string{
		"provider": types.FormatAddress(e.Provider),
		"name":     e.Name,
		"region":   e.Region,
	}}
}

type ProviderReward struct {
	Provider types.Address
	Class    types.ClassID
	Amount   *big.Int
}

func (ProviderReward) EventType() string { return TypeProviderReward }

func (e ProviderReward) Event() *types.Event {
	return &types.Event{Type: TypeProviderReward, Attributes: map[string]string{
		"provider": types.FormatAddress(e.Provider),
		"class":    types.FormatClassID(e.Class),
		"amount":   formatAmount(e.Amount),
	}}
}

type ProviderReputation struct {
	Provider types.Address
	Score    uint8
}

func (ProviderReputation) EventType() string { return TypeProviderReputation }

func (e ProviderReputation) Event() *types.Event {
	return &types.Event{Type: TypeProviderReputation, Attributes: map[string]string{
		"provider": types.FormatAddress(e.Provider),
		"score":    formatHeight(uint64(e.Score)),
	}}
}
