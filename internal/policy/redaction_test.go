package policy

import (
	"testing"

	"github.com/sentinel-pii/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestDecide_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		app       string
		denylist  []string
		allowlist []string
		redact    bool
		rule      Rule
	}{
		{
			name:      "allowlisted editor",
			app:       "Visual Studio Code",
			allowlist: []string{"visual studio", "vscode"},
			redact:    false,
			rule:      RuleAllowlistMatch,
		},
		{
			name:     "denylisted chat",
			app:      "Slack",
			denylist: []string{"slack", "chatgpt"},
			redact:   true,
			rule:     RuleDenylistMatch,
		},
		{
			name:     "unknown app with denylist",
			app:      "",
			denylist: []string{"slack"},
			redact:   false,
			rule:     RuleDenylistUnknownApp,
		},
		{
			name:   "no lists",
			app:    "Terminal",
			redact: true,
			rule:   RuleDefaultRedact,
		},
		{
			name:   "no lists unknown app",
			redact: true,
			rule:   RuleDefaultRedact,
		},
		{
			name:     "denylist miss",
			app:      "Terminal",
			denylist: []string{"slack"},
			redact:   false,
			rule:     RuleDenylistNoMatch,
		},
		{
			name:      "allowlist beats denylist",
			app:       "ChatGPT - Google Chrome",
			denylist:  []string{"chrome"},
			allowlist: []string{"chatgpt"},
			redact:    false,
			rule:      RuleAllowlistMatch,
		},
		{
			name:      "allowlist miss falls through to denylist",
			app:       "Discord",
			denylist:  []string{"discord"},
			allowlist: []string{"vscode"},
			redact:    true,
			rule:      RuleDenylistMatch,
		},
		{
			name:      "allowlist only miss redacts",
			app:       "Discord",
			allowlist: []string{"vscode"},
			redact:    true,
			rule:      RuleDefaultRedact,
		},
		{
			name:      "allowlist only unknown app redacts",
			allowlist: []string{"vscode"},
			redact:    true,
			rule:      RuleDefaultRedact,
		},
		{
			name:     "case insensitive both sides",
			app:      "sLaCk",
			denylist: []string{"SLACK"},
			redact:   true,
			rule:     RuleDenylistMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.app, tt.denylist, tt.allowlist)
			assert.Equal(t, tt.redact, d.Redact)
			assert.Equal(t, tt.rule, d.Rule)
			assert.Equal(t, tt.redact, ShouldRedact(tt.app, tt.denylist, tt.allowlist))
		})
	}
}

func TestDecide_AllowlistWinsRegardlessOfDenylist(t *testing.T) {
	denylists := [][]string{nil, {"code"}, {"visual studio code"}, {"x", "y"}}
	for _, deny := range denylists {
		assert.False(t, ShouldRedact("Visual Studio Code", deny, []string{"studio"}))
	}
}

func TestDecide_RedactOnlyOnDefaultOrConfirmedDeny(t *testing.T) {
	apps := []string{"", "Slack", "Terminal", "Visual Studio Code"}
	lists := []Lists{
		{},
		{Denylist: []string{"slack"}},
		{Allowlist: []string{"terminal"}},
		{Denylist: []string{"slack", "code"}, Allowlist: []string{"visual"}},
	}
	for _, app := range apps {
		for _, l := range lists {
			d := l.Decide(app)
			if !d.Redact {
				continue
			}
			noLists := len(l.Denylist) == 0
			confirmedDeny := len(l.Denylist) > 0 && app != "" && d.Rule == RuleDenylistMatch
			assert.True(t, noLists || confirmedDeny, "app=%q lists=%+v decision=%+v", app, l, d)
		}
	}
}

func TestDecision_MatchedAndAction(t *testing.T) {
	d := Decide("Slack", []string{"discord", "sla"}, nil)
	assert.Equal(t, "sla", d.Matched)
	assert.Equal(t, types.ActionBlocked, d.Action())

	d = Decide("Slack", []string{"discord"}, nil)
	assert.Empty(t, d.Matched)
	assert.Equal(t, types.ActionAllowed, d.Action())
}

func TestMatchesApp(t *testing.T) {
	assert.True(t, MatchesApp("ChatGPT - Google Chrome", "chatgpt"))
	assert.True(t, MatchesApp("Discord", "discord"))
	assert.False(t, MatchesApp("Visual Studio Code", "discord"))
	assert.True(t, MatchesApp("anything", ""))
}
