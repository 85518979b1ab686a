package agent

import "errors"

// Sentinel errors of the Turn Engine package, wrapped with fmt.Errorf at
// call sites rather than replaced by a bespoke error-code enum. RunTurn
// returns only ErrNoLLMClient; the others are not returned by this package.
var (
	// ErrToolNotFound names an unregistered tool. Dispatch reports that case
	// as an "Error: tool not found" tool_result instead of returning it.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrToolDisabled names a registered but disabled tool. Dispatch reports
	// that case as an error tool_result instead of returning it.
	ErrToolDisabled = errors.New("agent: tool disabled")

	// ErrNoLLMClient indicates the engine was constructed without an LLM client.
	ErrNoLLMClient = errors.New("agent: no llm client configured")

	// ErrBranchActive names a second branch requested while one is open. The
	// engine does not manage branches; branch.Manager.Create returns
	// branch.ErrBranchActive for that case.
	ErrBranchActive = errors.New("agent: branch already active")
)
