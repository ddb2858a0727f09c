package extractors

import (
	"testing"

	"schemamodel/internal/introspect"
)

func TestRuleCode(t *testing.T) {
	tests := []struct {
		action string
		want   int
	}{
		{"CASCADE", introspect.KeyCascade},
		{"SET_NULL", introspect.KeySetNull},
		{"set default", introspect.KeySetDefault},
		{"RESTRICT", introspect.KeyRestrict},
		{"NO ACTION", introspect.KeyNoAction},
		{"", introspect.KeyNoAction},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			if got := ruleCode(tt.action); got != tt.want {
				t.Errorf("\ngot %d, wanted %d", got, tt.want)
			}
		})
	}
}

func TestPgRuleCode(t *testing.T) {
	tests := map[string]int{
		"a": introspect.KeyNoAction,
		"r": introspect.KeyRestrict,
		"c": introspect.KeyCascade,
		"n": introspect.KeySetNull,
		"d": introspect.KeySetDefault,
	}
	for action, want := range tests {
		if got := pgRuleCode(action); got != want {
			t.Errorf("%s: got %d, wanted %d", action, got, want)
		}
	}
}

func TestDeferrabilityCode(t *testing.T) {
	tests := []struct {
		deferrable, deferred bool
		want                 int
	}{
		{false, false, introspect.KeyNotDeferrable},
		{true, false, introspect.KeyInitiallyImmediate},
		{true, true, introspect.KeyInitiallyDeferred},
	}
	for _, tt := range tests {
		if got := deferrabilityCode(tt.deferrable, tt.deferred); got != tt.want {
			t.Errorf("deferrable %v deferred %v: got %d, wanted %d", tt.deferrable, tt.deferred, got, tt.want)
		}
	}
}
