package expr

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		scope    map[string]float64
		expected float64
	}{
		{"addition", "1 + 2", nil, 3},
		{"precedence", "1 + 2 * 3", nil, 7},
		{"parentheses", "(1 + 2) * 3", nil, 9},
		{"unary minus", "-4 + 10", nil, 6},
		{"double unary", "--4", nil, 4},
		{"leading plus", "+4", nil, 4},
		{"division", "10 / 4", nil, 2.5},
		{"nested parens", "((2))", nil, 2},
		{"variables", "0.5*cost + 0.5*quality", map[string]float64{"cost": 0.2, "quality": 0.8}, 0.5},
		{"pi constant", "2 * pi", nil, 2 * math.Pi},
		{"e constant", "e", nil, math.E},
		{"float literal", "0.25 * 4", nil, 1},
		{"score variable", "score / 2", map[string]float64{"score": 0.8}, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			got, err := e.Eval(tt.scope)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"trailing operator", "1 +"},
		{"leading operator", "* 2"},
		{"unbalanced paren", "(1 + 2"},
		{"stray close paren", "1 + 2)"},
		{"malformed number", "1.2.3"},
		{"illegal char", "1 $ 2"},
		{"function call", "max(1, 2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			var ee *EvalError
			assert.ErrorAs(t, err, &ee)
		})
	}
}

func TestEval_UnknownVariable(t *testing.T) {
	e, err := Parse("a + b")
	require.NoError(t, err)

	_, err = e.Eval(map[string]float64{"a": 1})
	require.Error(t, err)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Reason, `"b"`)
}

func TestEval_DivisionByZero(t *testing.T) {
	e, err := Parse("1 / x")
	require.NoError(t, err)

	_, err = e.Eval(map[string]float64{"x": 0})
	require.Error(t, err)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "division by zero", ee.Reason)
}

func TestVars(t *testing.T) {
	e, err := Parse("0.5*cost + 0.5*quality + cost - pi")
	require.NoError(t, err)
	assert.Equal(t, []string{"cost", "quality"}, e.Vars())
}

func TestVars_ConstantsExcluded(t *testing.T) {
	e, err := Parse("pi * e")
	require.NoError(t, err)
	assert.Empty(t, e.Vars())
}

func TestEval_ScopeDoesNotShadowConstants(t *testing.T) {
	e, err := Parse("pi")
	require.NoError(t, err)
	got, err := e.Eval(map[string]float64{"pi": 99})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi, got, 1e-9)
}

func TestEval_ConcurrentScopes(t *testing.T) {
	e, err := Parse("x * 2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, evalErr := e.Eval(map[string]float64{"x": float64(i)})
			assert.NoError(t, evalErr)
			assert.InDelta(t, float64(2*i), got, 1e-9)
		}(i)
	}
	wg.Wait()
}
