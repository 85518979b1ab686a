// Package policy implements the Approval Policy: the gate the Turn Engine
// consults before a tool handler runs, per SPEC_FULL.md §4.6. It is a
// reduced form of the teacher's internal/tools/policy package — a flat
// (tool name, category) -> verdict lookup in place of the teacher's
// profiles/groups/MCP-alias resolution, since paw has no provider or MCP
// dimension to resolve against.
package policy

import "fmt"

// Verdict is the outcome of a policy decision for one tool dispatch.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	VerdictAsk   Verdict = "ask"
)

// Rule is one configured approval rule.
type Rule struct {
	Verdict Verdict
}

// Decision explains why a tool call was allowed, denied, or asked about,
// mirroring the teacher's policy.Decision{Allowed, Tool, Reason} shape.
type Decision struct {
	Tool     string
	Category string
	Verdict  Verdict
	Reason   string
}

// Allowed reports whether the decision permits dispatch to proceed.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

// Engine gates tool dispatch by rule, keyed by exact tool name (most
// specific) then by category, defaulting to allow when nothing matches —
// the teacher's Resolver.Decide deny-wins precedence collapses here to a
// single most-specific-rule-wins lookup since paw carries no separate
// allow/deny lists to reconcile.
type Engine struct {
	rules map[string]Rule

	// Ask, if set, is consulted synchronously for a verdict of "ask" and
	// reports whether the call should proceed. A nil Ask treats "ask" as
	// deny: there is no one to ask, so the safe default wins.
	Ask func(Decision) bool
}

// New constructs an Engine from rules keyed by tool name, or by category
// when prefixed "category:" (e.g. "category:shell").
func New(rules map[string]Rule) *Engine {
	if rules == nil {
		rules = map[string]Rule{}
	}
	return &Engine{rules: rules}
}

// Decide resolves the verdict for a tool call: a rule on the exact tool
// name wins, then a rule on its category, then the default allow.
func (e *Engine) Decide(tool, category string) Decision {
	if rule, ok := e.rules[tool]; ok {
		return e.resolve(tool, category, rule, fmt.Sprintf("rule for tool %q", tool))
	}
	if category != "" {
		if rule, ok := e.rules["category:"+category]; ok {
			return e.resolve(tool, category, rule, fmt.Sprintf("rule for category %q", category))
		}
	}
	return Decision{Tool: tool, Category: category, Verdict: VerdictAllow, Reason: "no matching rule, default allow"}
}

func (e *Engine) resolve(tool, category string, rule Rule, reason string) Decision {
	verdict := rule.Verdict
	if verdict == "" {
		verdict = VerdictAllow
	}
	d := Decision{Tool: tool, Category: category, Verdict: verdict, Reason: reason}
	if verdict != VerdictAsk {
		return d
	}
	if e.Ask != nil && e.Ask(d) {
		d.Verdict = VerdictAllow
		d.Reason = reason + " (asked, approved)"
	} else {
		d.Verdict = VerdictDeny
		d.Reason = reason + " (asked, denied)"
	}
	return d
}
