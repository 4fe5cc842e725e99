package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/expr-lang/expr"
)

// scriptMaxNodes bounds the AST size of every script statement.
const scriptMaxNodes = 1000

var assignmentRe = regexp.MustCompile(`^(?:vars\.)?([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)

// ErrScriptResult is returned when a bare expression does not yield an object.
var ErrScriptResult = errors.New("script must return an object")

func (i *Interpreter) execScript(ctx context.Context, r *run, node *models.Node) string {
	source := node.String("script")
	if source == "" {
		source = node.String("code")
	}

	vars, err := RunScript(source, r.session.Vars)
	if err != nil {
		i.logger.WarnContext(ctx, "script failed", "session_id", r.session.ID, "node_id", node.ID, "error", err)
		i.emit(r, "Erro no script: "+err.Error(), nil)

		return ""
	}

	r.session.Vars = vars

	return follow(r, node)
}

// RunScript evaluates a script against a copy of vars and returns the updated
// copy. Each non-empty line is either `name = expression`, assigning into
// vars, or a bare expression whose map result is merged into vars. The only
// binding visible to expressions is `vars`; the input map is never mutated.
func RunScript(source string, vars map[string]any) (map[string]any, error) {
	working, err := copyVars(vars)
	if err != nil {
		return nil, err
	}

	for number, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}

		target, expression := "", line
		if match := assignmentRe.FindStringSubmatch(line); match != nil {
			target, expression = match[1], strings.TrimSpace(match[2])
		}

		result, err := evaluate(expression, working)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}

		if target != "" {
			working[target] = result

			continue
		}

		switch value := result.(type) {
		case nil:
		case map[string]any:
			for key, v := range value {
				working[key] = v
			}
		default:
			return nil, fmt.Errorf("line %d: %w", number+1, ErrScriptResult)
		}
	}

	return working, nil
}

func evaluate(expression string, vars map[string]any) (any, error) {
	env := map[string]any{"vars": vars}

	program, err := expr.Compile(expression, expr.Env(env), expr.MaxNodes(scriptMaxNodes))
	if err != nil {
		return nil, err
	}

	return expr.Run(program, env)
}

// copyVars deep-copies the bag so a failing script leaves it untouched.
func copyVars(vars map[string]any) (map[string]any, error) {
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("variables are not serialisable: %w", err)
	}

	working := make(map[string]any)
	if err := json.Unmarshal(data, &working); err != nil {
		return nil, err
	}

	if working == nil {
		working = make(map[string]any)
	}

	return working, nil
}
