package services

import (
	"fmt"
	"strings"

	"dispatch-backend/models"
)

const (
	RoleRequester = "requester"
	RoleCaptain   = "captain"
	RoleProvider  = "provider"
	RoleSupport   = "support"
)

// KindPolicy is everything that differs between request kinds. The engines
// consult it instead of branching on the kind name.
type KindPolicy struct {
	Kind               models.RequestKind
	PricingApplies     bool
	ProofCloseRequired bool
	Pool               models.RoutingOutcome
	FulfillerRole      string
	LedgerEntryType    string
}

var builtinKinds = map[models.RequestKind]KindPolicy{
	models.KindInstant: {
		Kind:               models.KindInstant,
		PricingApplies:     true,
		ProofCloseRequired: true,
		Pool:               models.RoutingDirectPool,
		FulfillerRole:      RoleCaptain,
		LedgerEntryType:    "instant_completion",
	},
	models.KindSpecialized: {
		Kind:            models.KindSpecialized,
		Pool:            models.RoutingSpecializedPool,
		FulfillerRole:   RoleProvider,
		LedgerEntryType: "specialized_completion",
	},
}

// fulfillerColumn is the requests column holding this kind's fulfiller.
func (p KindPolicy) fulfillerColumn() string {
	if p.FulfillerRole == RoleCaptain {
		return "assigned_captain_id"
	}
	return "assigned_provider_id"
}

func (p KindPolicy) otherFulfillerColumn() string {
	if p.FulfillerRole == RoleCaptain {
		return "assigned_provider_id"
	}
	return "assigned_captain_id"
}

// Kinds is the set of kinds a deployment accepts new requests for.
type Kinds map[models.RequestKind]KindPolicy

// NewKinds builds the enabled set from names such as "instant".
func NewKinds(enabled []string) (Kinds, error) {
	out := Kinds{}
	for _, name := range enabled {
		k := models.RequestKind(strings.ToLower(strings.TrimSpace(name)))
		p, ok := builtinKinds[k]
		if !ok {
			return nil, fmt.Errorf("unknown request kind %q", name)
		}
		out[k] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no request kinds enabled")
	}
	return out, nil
}

// AllKinds enables every built-in kind.
func AllKinds() Kinds {
	out := Kinds{}
	for k, p := range builtinKinds {
		out[k] = p
	}
	return out
}

// Enabled returns the policy for kinds new requests may use.
func (k Kinds) Enabled(kind models.RequestKind) (KindPolicy, bool) {
	p, ok := k[kind]
	return p, ok
}

// For returns the policy governing an existing request. Requests created
// before a kind was disabled keep working.
func (k Kinds) For(kind models.RequestKind) (KindPolicy, error) {
	if p, ok := k[kind]; ok {
		return p, nil
	}
	if p, ok := builtinKinds[kind]; ok {
		return p, nil
	}
	return KindPolicy{}, invalidState("UNKNOWN_KIND", fmt.Sprintf("unknown request kind %q", kind))
}
