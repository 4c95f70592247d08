package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

const (
	factorGeofence        = "geofence"
	factorDeviceIntegrity = "device integrity"

	requirementAuthenticated = "authenticated"
	requirementForced        = "forced requirement"
)

// Location is a circular geofence, radius in meters.
type Location struct {
	Radius    float64 `json:"radius"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AuthPolicy is the set of requirements a user's authorization response must
// satisfy. All constructors produce the same representation: a minimum number
// of factors of any kind, per-category factor counts, device integrity and a
// list of geofences.
//
// AuthPolicy is a value; the builder methods return modified copies.
type AuthPolicy struct {
	Any             int
	Knowledge       int
	Inherence       int
	Possession      int
	DeviceIntegrity bool
	Locations       []Location
}

// NewAuthPolicy builds a policy from both a factor count and per-category
// flags.
func NewAuthPolicy(factors int, knowledge, inherence, possession, deviceIntegrity bool, locations ...Location) AuthPolicy {
	return AuthPolicy{
		Any:             factors,
		Knowledge:       flag(knowledge),
		Inherence:       flag(inherence),
		Possession:      flag(possession),
		DeviceIntegrity: deviceIntegrity,
		Locations:       slices.Clone(locations),
	}
}

// NewFactorCountPolicy requires any number of distinct factors.
func NewFactorCountPolicy(factors int, locations ...Location) AuthPolicy {
	return NewAuthPolicy(factors, false, false, false, false, locations...)
}

// NewFactorFlagsPolicy requires one factor of each flagged category.
func NewFactorFlagsPolicy(knowledge, inherence, possession bool, locations ...Location) AuthPolicy {
	return NewAuthPolicy(0, knowledge, inherence, possession, false, locations...)
}

// NewGeofencePolicy only requires the user to be inside one of the locations.
func NewGeofencePolicy(locations ...Location) AuthPolicy {
	return NewAuthPolicy(0, false, false, false, false, locations...)
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AddGeofence returns a copy of p with an extra location.
func (p AuthPolicy) AddGeofence(radius, latitude, longitude float64) AuthPolicy {
	p.Locations = append(slices.Clone(p.Locations), Location{Radius: radius, Latitude: latitude, Longitude: longitude})
	return p
}

// WithDeviceIntegrity returns a copy of p with device integrity set.
func (p AuthPolicy) WithDeviceIntegrity(required bool) AuthPolicy {
	p.Locations = slices.Clone(p.Locations)
	p.DeviceIntegrity = required
	return p
}

// KnowledgeRequired reports whether a knowledge factor is required.
func (p AuthPolicy) KnowledgeRequired() bool { return p.Knowledge > 0 }

// InherenceRequired reports whether an inherence factor is required.
func (p AuthPolicy) InherenceRequired() bool { return p.Inherence > 0 }

// PossessionRequired reports whether a possession factor is required.
func (p AuthPolicy) PossessionRequired() bool { return p.Possession > 0 }

// Equal reports whether p and o are structurally equal. Location order matters.
func (p AuthPolicy) Equal(o AuthPolicy) bool {
	return p.Any == o.Any &&
		p.Knowledge == o.Knowledge &&
		p.Inherence == o.Inherence &&
		p.Possession == o.Possession &&
		p.DeviceIntegrity == o.DeviceIntegrity &&
		slices.Equal(p.Locations, o.Locations)
}

func (p AuthPolicy) String() string {
	return fmt.Sprintf("AuthPolicy{any=%d, knowledge=%d, inherence=%d, possession=%d, deviceIntegrity=%t, locations=%v}",
		p.Any, p.Knowledge, p.Inherence, p.Possession, p.DeviceIntegrity, p.Locations)
}

// Field order of the wire types below is the order the API documents.

type policyJSON struct {
	MinimumRequirements []minimumRequirementJSON `json:"minimum_requirements"`
	Factors             []factorJSON             `json:"factors"`
}

type minimumRequirementJSON struct {
	Requirement string `json:"requirement"`
	Any         int    `json:"any,omitempty"`
	Knowledge   int    `json:"knowledge,omitempty"`
	Inherence   int    `json:"inherence,omitempty"`
	Possession  int    `json:"possession,omitempty"`
}

type factorJSON struct {
	Factor      string               `json:"factor"`
	Requirement string               `json:"requirement,omitempty"`
	Priority    int                  `json:"priority,omitempty"`
	Attributes  factorAttributesJSON `json:"attributes"`
}

type factorAttributesJSON struct {
	Locations     []Location `json:"locations,omitempty"`
	FactorEnabled *looseInt  `json:"factor enabled,omitempty"`
}

// looseInt accepts both 1 and "1".
type looseInt int

func (i *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", s, err)
		}
		*i = looseInt(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*i = looseInt(n)
	return nil
}

func (p AuthPolicy) MarshalJSON() ([]byte, error) {
	out := policyJSON{
		MinimumRequirements: []minimumRequirementJSON{},
		Factors:             []factorJSON{},
	}

	if p.Any > 0 || p.Knowledge > 0 || p.Inherence > 0 || p.Possession > 0 {
		out.MinimumRequirements = append(out.MinimumRequirements, minimumRequirementJSON{
			Requirement: requirementAuthenticated,
			Any:         p.Any,
			Knowledge:   p.Knowledge,
			Inherence:   p.Inherence,
			Possession:  p.Possession,
		})
	}

	if len(p.Locations) > 0 {
		out.Factors = append(out.Factors, factorJSON{
			Factor:      factorGeofence,
			Requirement: requirementForced,
			Priority:    1,
			Attributes:  factorAttributesJSON{Locations: p.Locations},
		})
	}

	if p.DeviceIntegrity {
		enabled := looseInt(1)
		out.Factors = append(out.Factors, factorJSON{
			Factor:      factorDeviceIntegrity,
			Requirement: requirementForced,
			Priority:    1,
			Attributes:  factorAttributesJSON{FactorEnabled: &enabled},
		})
	}

	return json.Marshal(out)
}

func (p *AuthPolicy) UnmarshalJSON(data []byte) error {
	var in policyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	policy := AuthPolicy{}
	for _, req := range in.MinimumRequirements {
		policy.Any += req.Any
		policy.Knowledge += req.Knowledge
		policy.Inherence += req.Inherence
		policy.Possession += req.Possession
	}

	for _, factor := range in.Factors {
		switch factor.Factor {
		case factorGeofence:
			policy.Locations = append(policy.Locations, factor.Attributes.Locations...)
		case factorDeviceIntegrity:
			policy.DeviceIntegrity = factor.Attributes.FactorEnabled != nil && *factor.Attributes.FactorEnabled == 1
		}
	}

	*p = policy
	return nil
}
