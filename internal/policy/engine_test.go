package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideDefaultsToAllow(t *testing.T) {
	e := New(nil)
	d := e.Decide("read_file", "file")
	assert.True(t, d.Allowed())
	assert.Equal(t, VerdictAllow, d.Verdict)
}

func TestDecideToolRuleWinsOverCategoryRule(t *testing.T) {
	e := New(map[string]Rule{
		"run_shell":        {Verdict: VerdictAllow},
		"category:shell":   {Verdict: VerdictDeny},
	})
	d := e.Decide("run_shell", "shell")
	assert.True(t, d.Allowed())
}

func TestDecideCategoryRuleAppliesWithoutToolRule(t *testing.T) {
	e := New(map[string]Rule{
		"category:shell": {Verdict: VerdictDeny},
	})
	d := e.Decide("interrupt_shell", "shell")
	assert.False(t, d.Allowed())
	assert.Equal(t, VerdictDeny, d.Verdict)
}

func TestDecideAskWithNoCallbackDenies(t *testing.T) {
	e := New(map[string]Rule{
		"run_shell": {Verdict: VerdictAsk},
	})
	d := e.Decide("run_shell", "shell")
	assert.False(t, d.Allowed())
	assert.Equal(t, VerdictDeny, d.Verdict)
}

func TestDecideAskApprovedByCallback(t *testing.T) {
	e := New(map[string]Rule{
		"run_shell": {Verdict: VerdictAsk},
	})
	e.Ask = func(d Decision) bool { return true }
	d := e.Decide("run_shell", "shell")
	assert.True(t, d.Allowed())
}

func TestDecideAskDeniedByCallback(t *testing.T) {
	e := New(map[string]Rule{
		"run_shell": {Verdict: VerdictAsk},
	})
	e.Ask = func(d Decision) bool { return false }
	d := e.Decide("run_shell", "shell")
	assert.False(t, d.Allowed())
}
