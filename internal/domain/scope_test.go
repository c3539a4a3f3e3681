package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_KeyRoundTrip(t *testing.T) {
	tests := []struct {
		scope Scope
		key   string
	}{
		{CompanyScope("acme"), "company:acme"},
		{Scope{Kind: ScopeState, State: "tx"}, "state:TX"},
		{Scope{Kind: ScopeCity, State: "TX", City: "Austin"}, "city:TX:austin"},
		{Scope{Kind: ScopeRegion, States: []string{"tx", "OK", "ar"}}, "region:AR,OK,TX"},
		{Scope{Kind: ScopeNational}, "national"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.scope.Key())

			parsed, err := ParseScope(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.key, parsed.Key())
		})
	}
}

func TestScope_Validate(t *testing.T) {
	assert.Error(t, Scope{Kind: ScopeCompany}.Validate())
	assert.Error(t, Scope{Kind: ScopeCity, State: "TX"}.Validate())
	assert.Error(t, Scope{Kind: ScopeRegion}.Validate())
	assert.Error(t, Scope{Kind: "galaxy"}.Validate())
	assert.NoError(t, Scope{Kind: ScopeNational}.Validate())

	_, err := ParseScope("planet:earth")
	assert.Error(t, err)
}

func TestScope_Matches(t *testing.T) {
	obs := Observation{CompanyID: "acme", Location: Location{City: "Austin", State: "TX"}}

	assert.True(t, CompanyScope("acme").Matches(obs))
	assert.False(t, CompanyScope("other").Matches(obs))
	assert.True(t, Scope{Kind: ScopeState, State: "tx"}.Matches(obs))
	assert.True(t, Scope{Kind: ScopeCity, State: "TX", City: "austin"}.Matches(obs))
	assert.False(t, Scope{Kind: ScopeCity, State: "TX", City: "Dallas"}.Matches(obs))
	assert.True(t, Scope{Kind: ScopeRegion, States: []string{"OK", "TX"}}.Matches(obs))
	assert.True(t, Scope{Kind: ScopeNational}.Matches(obs))
}
