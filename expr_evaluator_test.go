package traits

import (
	"errors"
	"testing"
	"time"
)

type countingProgramCache struct {
	programs map[string]any
	hits     int
	sets     int
}

func newCountingProgramCache() *countingProgramCache {
	return &countingProgramCache{programs: map[string]any{}}
}

func (c *countingProgramCache) Get(expr string) (any, bool) {
	program, ok := c.programs[expr]
	if ok {
		c.hits++
	}
	return program, ok
}

func (c *countingProgramCache) Set(expr string, program any) {
	c.sets++
	c.programs[expr] = program
}

func TestExprEvaluateReadsContext(t *testing.T) {
	evaluator := NewExprEvaluator()
	ctx := RuleContext{
		Method:   "Fit",
		Args:     map[string]any{"count": 2},
		Metadata: map[string]any{"mode": "debug"},
	}

	result, err := evaluator.Evaluate(ctx, `method == "Fit" && args.count == 2 && metadata.mode == "debug"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Fatalf("expected true, got %v", result)
	}
}

func TestExprEvaluateDefaultsMissingMaps(t *testing.T) {
	evaluator := NewExprEvaluator()

	result, err := evaluator.Evaluate(RuleContext{}, `len(metadata) == 0 && len(args) == 0`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Fatalf("expected defaulted maps, got %v", result)
	}
}

func TestExprEvaluateExposesNow(t *testing.T) {
	evaluator := NewExprEvaluator()
	pinned := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	result, err := evaluator.Evaluate(RuleContext{Now: &pinned}, `now.Hour() == 12`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Fatalf("expected pinned clock visible, got %v", result)
	}
}

func TestExprEvaluateEmptyExpression(t *testing.T) {
	evaluator := NewExprEvaluator()
	if _, err := evaluator.Evaluate(RuleContext{}, ""); err == nil {
		t.Fatalf("expected error for empty expression")
	}
	if _, err := evaluator.Compile(""); err == nil {
		t.Fatalf("expected error for empty expression")
	}
}

func TestExprCompileFailureReturnsEvaluationError(t *testing.T) {
	evaluator := NewExprEvaluator()
	_, err := evaluator.Compile("((")
	if err == nil {
		t.Fatalf("expected compile failure")
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Engine != "expr" {
		t.Fatalf("expected expr EvaluationError, got %v", err)
	}
}

func TestExprCompiledRuleReusableAcrossContexts(t *testing.T) {
	evaluator := NewExprEvaluator()
	rule, err := evaluator.Compile(`args.count > 1`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	verdict, err := rule.Evaluate(RuleContext{Args: map[string]any{"count": 3}})
	if err != nil || verdict != true {
		t.Fatalf("expected true, got (%v, %v)", verdict, err)
	}
	verdict, err = rule.Evaluate(RuleContext{Args: map[string]any{"count": 0}})
	if err != nil || verdict != false {
		t.Fatalf("expected false, got (%v, %v)", verdict, err)
	}
}

func TestExprProgramCacheAvoidsRecompiles(t *testing.T) {
	cache := newCountingProgramCache()
	evaluator := NewExprEvaluator(ExprWithProgramCache(cache))

	for i := 0; i < 3; i++ {
		if _, err := evaluator.Evaluate(RuleContext{}, "1 + 1 == 2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cache.sets != 1 {
		t.Fatalf("expected one compile, got %d", cache.sets)
	}
	if cache.hits != 2 {
		t.Fatalf("expected subsequent runs to hit the cache, got %d hits", cache.hits)
	}
}

func TestExprRegistryFunctionsAvailable(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("double", func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("double expects one argument")
		}
		n, ok := args[0].(int)
		if !ok {
			return nil, errors.New("double expects an int")
		}
		return n * 2, nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	evaluator := NewExprEvaluator(ExprWithFunctionRegistry(registry))

	result, err := evaluator.Evaluate(RuleContext{}, "double(21) == 42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Fatalf("expected direct function call, got %v", result)
	}

	result, err = evaluator.Evaluate(RuleContext{}, `call("double", 21) == 42`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != true {
		t.Fatalf("expected call helper, got %v", result)
	}
}

func TestFunctionRegistryGuards(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("", func(...any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected empty-name rejection")
	}
	if err := registry.Register("fn", nil); err == nil {
		t.Fatalf("expected nil-function rejection")
	}
	if err := registry.Register("fn", func(...any) (any, error) { return 1, nil }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.Register("FN", func(...any) (any, error) { return 2, nil }); err == nil {
		t.Fatalf("expected case-insensitive duplicate rejection")
	}

	clone := registry.Clone()
	if err := clone.Register("extra", func(...any) (any, error) { return 3, nil }); err != nil {
		t.Fatalf("register on clone failed: %v", err)
	}
	if names := registry.Names(); len(names) != 1 {
		t.Fatalf("expected clone isolation, got %v", names)
	}
	if _, err := registry.Call("missing"); err == nil {
		t.Fatalf("expected unknown-function error")
	}
}
