package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
)

// ConditionNodeExecutor evaluates config.operator against the resolved
// value and config.compare_value. The boolean outcome selects which
// outgoing edge handle is live.
type ConditionNodeExecutor struct {
	BaseNodeExecutor
}

func NewConditionNodeExecutor() *ConditionNodeExecutor {
	return &ConditionNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: 5 * time.Second},
	}
}

func (e *ConditionNodeExecutor) Execute(_ context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	operator, _ := node.Config["operator"].(string)
	compareValue := node.Config["compare_value"]
	value := input["value"]

	outcome, err := evaluate(operator, value, compareValue)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"condition":    outcome,
		"value":        value,
		"compareValue": compareValue,
		"operator":     operator,
	}, nil
}

func evaluate(operator string, value, compareValue interface{}) (bool, error) {
	switch operator {
	case "equals":
		return stringify(value) == stringify(compareValue), nil
	case "not_equals":
		return stringify(value) != stringify(compareValue), nil
	case "greater_than":
		a, b, err := coerceNumbers(value, compareValue)
		if err != nil {
			return false, err
		}
		return a > b, nil
	case "less_than":
		a, b, err := coerceNumbers(value, compareValue)
		if err != nil {
			return false, err
		}
		return a < b, nil
	case "greater_than_or_equal":
		a, b, err := coerceNumbers(value, compareValue)
		if err != nil {
			return false, err
		}
		return a >= b, nil
	case "less_than_or_equal":
		a, b, err := coerceNumbers(value, compareValue)
		if err != nil {
			return false, err
		}
		return a <= b, nil
	case "contains":
		return strings.Contains(stringify(value), stringify(compareValue)), nil
	case "not_contains":
		return !strings.Contains(stringify(value), stringify(compareValue)), nil
	case "starts_with":
		return strings.HasPrefix(stringify(value), stringify(compareValue)), nil
	case "ends_with":
		return strings.HasSuffix(stringify(value), stringify(compareValue)), nil
	case "is_empty":
		return isEmpty(value), nil
	case "is_not_empty":
		return !isEmpty(value), nil
	default:
		return false, fmt.Errorf("%w: %s", workflow.ErrUnknownOperator, operator)
	}
}

func coerceNumbers(a, b interface{}) (float64, float64, error) {
	x, ok := coerceNumber(a)
	if !ok {
		return 0, 0, fmt.Errorf("value %v is not numeric", a)
	}
	y, ok := coerceNumber(b)
	if !ok {
		return 0, 0, fmt.Errorf("compare value %v is not numeric", b)
	}
	return x, y, nil
}

func coerceNumber(v interface{}) (float64, bool) {
	if f, ok := toFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []interface{}:
		return len(x) == 0
	case map[string]interface{}:
		return len(x) == 0
	}
	return false
}
