package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/pkg/actions"
)

// EvaluateCondition decides a branching condition in two phases: first
// templates are rendered, then the resulting string is evaluated. The
// literals a rendered boolean commonly produces short-circuit without
// touching the evaluator.
func EvaluateCondition(ctx context.Context, eval *expression.Evaluator, condition string, data map[string]any) (bool, error) {
	rendered, err := RenderString(condition, data)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(rendered)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}

	last, _ := data[actions.ContextKeyLastResponse].(map[string]any)
	scope := expression.Scope{Context: data}
	if last != nil {
		scope.Body = last["body"]
		if headers, ok := last["headers"].(map[string]any); ok {
			scope.Headers = headers
		}
	}
	value, err := eval.Evaluate(ctx, rendered, scope)
	if err != nil {
		return false, err
	}
	return expression.Truthy(value), nil
}

// EvaluateConditionSafe is the skip-on-failure variant used by the
// step machine: an unevaluable condition logs a warning and skips the
// action rather than failing the instance.
func EvaluateConditionSafe(ctx context.Context, eval *expression.Evaluator, logger *slog.Logger, condition string, data map[string]any) bool {
	met, err := EvaluateCondition(ctx, eval, condition, data)
	if err != nil {
		if logger != nil {
			logger.Warn("condition evaluation failed, skipping action",
				slog.String("condition", condition),
				slog.Any("error", err))
		}
		return false
	}
	return met
}
