// Package policy evaluates authorization rules for message mutations.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.message_policy.decision"),
		rego.Module("message_policy.rego", policyContent),
		// The policy uses Rego v1 syntax; OPA v0.x parses v0 by default.
		rego.SetRegoVersion(ast.RegoV1),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the message policy. Input carries action, actor_id,
// sender_id and is_deleted. Returns the decision string ("allow" or
// "deny").
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result means it was not
		// loaded, so fail closed.
		return "deny", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "deny", nil
}

// DefaultPolicy is the default message mutation policy: only the sender
// may edit or delete a message, and tombstoned messages take no further
// mutations.
const DefaultPolicy = `
package message_policy

default decision := "deny"

decision := "allow" if {
	input.action == "edit"
	input.actor_id == input.sender_id
	not input.is_deleted
}

decision := "allow" if {
	input.action == "delete"
	input.actor_id == input.sender_id
}

decision := "allow" if {
	input.action == "react"
	not input.is_deleted
}
`
