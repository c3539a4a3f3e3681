package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ScopeKind is the aggregation boundary of a model.
type ScopeKind string

const (
	ScopeCompany  ScopeKind = "company"
	ScopeState    ScopeKind = "state"
	ScopeCity     ScopeKind = "city"
	ScopeRegion   ScopeKind = "region"
	ScopeNational ScopeKind = "national"
)

// Scope selects the observations a model is trained on: one company, or a
// geographic grouping pooled across companies.
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	CompanyID string    `json:"company_id,omitempty"`
	State     string    `json:"state,omitempty"`
	City      string    `json:"city,omitempty"`
	States    []string  `json:"states,omitempty"`
}

// CompanyScope returns the scope of a single tenant company.
func CompanyScope(companyID string) Scope {
	return Scope{Kind: ScopeCompany, CompanyID: companyID}
}

// IsGeographic reports whether the scope pools data across companies.
func (s Scope) IsGeographic() bool {
	return s.Kind != ScopeCompany
}

// Validate checks that the fields required by the scope kind are set.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeCompany:
		if s.CompanyID == "" {
			return errors.New("company scope requires company_id")
		}
	case ScopeState:
		if s.State == "" {
			return errors.New("state scope requires state")
		}
	case ScopeCity:
		if s.State == "" || s.City == "" {
			return errors.New("city scope requires state and city")
		}
	case ScopeRegion:
		if len(s.States) == 0 {
			return errors.New("region scope requires at least one state")
		}
	case ScopeNational:
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	return nil
}

// Key renders the scope as the stable string stored on models, e.g.
// "company:acme", "state:TX", "city:TX:austin", "region:AR,OK,TX", "national".
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeCompany:
		return "company:" + s.CompanyID
	case ScopeState:
		return "state:" + strings.ToUpper(s.State)
	case ScopeCity:
		return "city:" + strings.ToUpper(s.State) + ":" + strings.ToLower(s.City)
	case ScopeRegion:
		return "region:" + strings.Join(s.normalizedStates(), ",")
	default:
		return string(s.Kind)
	}
}

func (s Scope) String() string { return s.Key() }

// Matches reports whether an observation falls inside the scope.
func (s Scope) Matches(obs Observation) bool {
	switch s.Kind {
	case ScopeCompany:
		return obs.CompanyID == s.CompanyID
	case ScopeState:
		return strings.EqualFold(obs.Location.State, s.State)
	case ScopeCity:
		return strings.EqualFold(obs.Location.State, s.State) && strings.EqualFold(obs.Location.City, s.City)
	case ScopeRegion:
		for _, st := range s.States {
			if strings.EqualFold(obs.Location.State, st) {
				return true
			}
		}
		return false
	case ScopeNational:
		return true
	default:
		return false
	}
}

// ParseScope parses the Key form back into a Scope.
func ParseScope(key string) (Scope, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(key), ":")
	var s Scope
	switch ScopeKind(kind) {
	case ScopeCompany:
		s = CompanyScope(rest)
	case ScopeState:
		s = Scope{Kind: ScopeState, State: strings.ToUpper(rest)}
	case ScopeCity:
		state, city, _ := strings.Cut(rest, ":")
		s = Scope{Kind: ScopeCity, State: strings.ToUpper(state), City: city}
	case ScopeRegion:
		s = Scope{Kind: ScopeRegion}
		for _, st := range strings.Split(rest, ",") {
			if st = strings.TrimSpace(st); st != "" {
				s.States = append(s.States, strings.ToUpper(st))
			}
		}
	case ScopeNational:
		s = Scope{Kind: ScopeNational}
	default:
		return Scope{}, fmt.Errorf("unknown scope %q", key)
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

func (s Scope) normalizedStates() []string {
	out := make([]string, len(s.States))
	for i, st := range s.States {
		out[i] = strings.ToUpper(st)
	}
	sort.Strings(out)
	return out
}
