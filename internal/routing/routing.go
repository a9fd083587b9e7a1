// Package routing decides who executes a trade: the hub or the host DEX.
package routing

import "github.com/ggonzalez94/hubroute/internal/amount"

type Owner string

const (
	OwnerUndecided Owner = ""
	OwnerDex       Owner = "dex"
	OwnerHub       Owner = "hub"
)

// Control is the persisted debug override.
type Control string

const (
	ControlNone  Control = ""
	ControlForce Control = "1"
	ControlSkip  Control = "2"
	// ControlReset clears a stored override; it never reaches Resolve as an
	// active value.
	ControlReset Control = "3"
)

// ParseControl accepts the numeric codes and their names.
func ParseControl(v string) (Control, bool) {
	switch v {
	case "", "none":
		return ControlNone, true
	case "1", "force":
		return ControlForce, true
	case "2", "skip":
		return ControlSkip, true
	case "3", "reset":
		return ControlReset, true
	}
	return ControlNone, false
}

type Inputs struct {
	HubOut      string
	DexOut      string
	Control     Control
	HubEnabled  bool
	CircuitOpen bool
}

// Resolve applies, in order: missing amounts, skip or disabled, force,
// open circuit, then a strict comparison where ties go to the DEX.
func Resolve(in Inputs) Owner {
	hub, hubOK := amount.Parse(in.HubOut)
	dex, dexOK := amount.Parse(in.DexOut)
	hubPositive := hubOK && hub.IsPositive()
	dexPositive := dexOK && dex.IsPositive()
	if !hubPositive && !dexPositive {
		return OwnerUndecided
	}
	if in.Control == ControlSkip || !in.HubEnabled {
		return OwnerDex
	}
	if in.Control == ControlForce {
		return OwnerHub
	}
	if in.CircuitOpen {
		return OwnerDex
	}
	if hub.GreaterThan(dex) {
		return OwnerHub
	}
	return OwnerDex
}
