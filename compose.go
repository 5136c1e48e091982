package traits

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrNilBase indicates Compose was called without a base instance.
	ErrNilBase = errors.New("traits: base must not be nil")
	// ErrMethodNotFound indicates a decoration or call targeting a method the
	// composition does not expose.
	ErrMethodNotFound = errors.New("traits: method not found")
	// ErrNilDecorator indicates a decoration with a nil decorator.
	ErrNilDecorator = errors.New("traits: decorator is nil")
)

// MethodFunc is the uniform call shape methods take inside a composition.
type MethodFunc func(args ...any) (any, error)

// Decorator wraps a method with behavior around its call.
type Decorator func(next MethodFunc) MethodFunc

// ComposeOption configures a composition.
type ComposeOption func(*composeConfig)

type composeConfig struct {
	traits      []any
	decorations []decoration
	evaluator   Evaluator
	cache       ProgramCache
	functions   *FunctionRegistry
	logger      RuleLogger
	metadata    map[string]any
}

type decoration struct {
	method    string
	decorator Decorator
	rule      string
}

// WithTrait attaches a capability trait instance to the composition. Traits
// contribute their exported methods and are retrievable through As.
func WithTrait(trait any) ComposeOption {
	return func(cfg *composeConfig) {
		if trait == nil {
			return
		}
		cfg.traits = append(cfg.traits, trait)
	}
}

// WithDecorated replaces the composed method name with decorator applied to
// the original implementation. Decorations stack in declaration order, the
// last one outermost.
func WithDecorated(name string, decorator Decorator) ComposeOption {
	return func(cfg *composeConfig) {
		cfg.decorations = append(cfg.decorations, decoration{method: name, decorator: decorator})
	}
}

// WithDecoratedWhen decorates name like WithDecorated, but the wrapper only
// runs on calls for which rule evaluates truthy; otherwise the undecorated
// method runs, unchanged behavior.
func WithDecoratedWhen(name string, decorator Decorator, rule string) ComposeOption {
	return func(cfg *composeConfig) {
		cfg.decorations = append(cfg.decorations, decoration{method: name, decorator: decorator, rule: rule})
	}
}

// WithComposeEvaluator sets the evaluator compiling gate rules. Defaults to
// the expr engine.
func WithComposeEvaluator(evaluator Evaluator) ComposeOption {
	return func(cfg *composeConfig) {
		cfg.evaluator = evaluator
	}
}

// WithComposeProgramCache wires a compiled-rule cache into the default
// evaluator.
func WithComposeProgramCache(cache ProgramCache) ComposeOption {
	return func(cfg *composeConfig) {
		cfg.cache = cache
	}
}

// WithComposeFunctionRegistry exposes registry functions to gate rules.
func WithComposeFunctionRegistry(registry *FunctionRegistry) ComposeOption {
	return func(cfg *composeConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithComposeFunction registers fn under name for gate rules.
func WithComposeFunction(name string, fn Function) ComposeOption {
	return func(cfg *composeConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}

// WithRuleLogger attaches a logger for gate evaluations.
func WithRuleLogger(logger RuleLogger) ComposeOption {
	return func(cfg *composeConfig) {
		if logger == nil {
			cfg.logger = noopRuleLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithCallMetadata attaches metadata visible to gate rules on every call.
// The map is copied so the composition stays immutable if the caller mutates
// their reference.
func WithCallMetadata(metadata map[string]any) ComposeOption {
	return func(cfg *composeConfig) {
		if len(metadata) == 0 {
			return
		}
		cfg.metadata = copyMetadata(metadata)
	}
}

// Composed is a delegating proxy combining a base instance with capability
// traits behind one method table. The base type is never touched: instances
// created directly before or after composition carry none of the traits'
// behavior or state.
//
// Method lookup precedence on name collisions: traits in the order given,
// then the base; the first provider of a name wins. The precedence is part of
// the contract and covered by tests.
type Composed struct {
	base    any
	traits  []any
	methods map[string]MethodFunc
	cfg     composeConfig
}

// Compose builds a composition of base and the configured traits, applying
// any decorations to the assembled method table.
func Compose(base any, opts ...ComposeOption) (*Composed, error) {
	if base == nil {
		return nil, ErrNilBase
	}
	cfg := composeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	c := &Composed{
		base:    base,
		traits:  cfg.traits,
		methods: map[string]MethodFunc{},
		cfg:     cfg,
	}
	for _, trait := range cfg.traits {
		c.addMethods(trait)
	}
	c.addMethods(base)

	for _, dec := range cfg.decorations {
		if dec.decorator == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilDecorator, dec.method)
		}
		plain, ok := c.methods[dec.method]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, dec.method)
		}
		wrapped := dec.decorator(plain)
		if dec.rule == "" {
			c.methods[dec.method] = wrapped
			continue
		}
		compiled, err := c.compileGate(dec.rule)
		if err != nil {
			return nil, err
		}
		c.methods[dec.method] = c.gated(dec.method, dec.rule, compiled, wrapped, plain)
	}
	return c, nil
}

// Call invokes the composed method name with args.
func (c *Composed) Call(name string, args ...any) (any, error) {
	fn, ok := c.methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return fn(args...)
}

// Method returns the composed entry for name, decorations included.
func (c *Composed) Method(name string) (MethodFunc, bool) {
	fn, ok := c.methods[name]
	return fn, ok
}

// Base returns the wrapped base instance.
func (c *Composed) Base() any {
	return c.base
}

// Traits returns the attached trait instances in precedence order.
func (c *Composed) Traits() []any {
	if len(c.traits) == 0 {
		return nil
	}
	out := make([]any, len(c.traits))
	copy(out, c.traits)
	return out
}

// As extracts the first attached trait assignable to *target, errors.As
// style. It reports whether a match was found.
func As[T any](c *Composed, target *T) bool {
	if c == nil || target == nil {
		return false
	}
	for _, trait := range c.traits {
		if match, ok := trait.(T); ok {
			*target = match
			return true
		}
	}
	return false
}

func (c *Composed) addMethods(target any) {
	if target == nil {
		return
	}
	value := reflect.ValueOf(target)
	valueType := value.Type()
	for i := 0; i < valueType.NumMethod(); i++ {
		method := valueType.Method(i)
		if !method.IsExported() {
			continue
		}
		if _, exists := c.methods[method.Name]; exists {
			continue
		}
		c.methods[method.Name] = bindMethod(method.Name, value.Method(i))
	}
}

func (c *Composed) compileGate(rule string) (CompiledRule, error) {
	if c.cfg.evaluator == nil {
		var exprOpts []ExprEvaluatorOption
		if c.cfg.cache != nil {
			exprOpts = append(exprOpts, ExprWithProgramCache(c.cfg.cache))
		}
		if c.cfg.functions != nil {
			exprOpts = append(exprOpts, ExprWithFunctionRegistry(c.cfg.functions))
		}
		c.cfg.evaluator = NewExprEvaluator(exprOpts...)
	}
	if c.cfg.evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return c.cfg.evaluator.Compile(rule)
}

func (c *Composed) gated(name, rule string, compiled CompiledRule, wrapped, plain MethodFunc) MethodFunc {
	return func(args ...any) (any, error) {
		ctx := RuleContext{
			Method: name,
			Args: map[string]any{
				"count":  len(args),
				"values": args,
			},
			Metadata: copyMetadata(c.cfg.metadata),
		}
		start := time.Now()
		verdict, err := compiled.Evaluate(ctx)
		err = wrapEvaluationError("", rule, name, err)
		decision := err == nil && truthy(verdict)
		c.ruleLogger().LogRule(RuleLogEvent{
			Method:   name,
			Expr:     rule,
			Verdict:  decision,
			Duration: time.Since(start),
			Err:      err,
		})
		if err != nil {
			return nil, err
		}
		if decision {
			return wrapped(args...)
		}
		return plain(args...)
	}
}

func (c *Composed) ruleLogger() RuleLogger {
	if c.cfg.logger != nil {
		return c.cfg.logger
	}
	return noopRuleLogger{}
}

// Blueprint is a reusable composition recipe. Trait factories run once per
// New call, so every composed instance starts with fresh, independent trait
// state.
type Blueprint struct {
	factories []func() any
	options   []ComposeOption
}

// BlueprintOption configures a Blueprint.
type BlueprintOption func(*Blueprint)

// WithTraitFactory registers a constructor producing a fresh trait instance
// for each composed instance.
func WithTraitFactory(factory func() any) BlueprintOption {
	return func(b *Blueprint) {
		if factory == nil {
			return
		}
		b.factories = append(b.factories, factory)
	}
}

// WithComposeOptions appends compose options applied to every New call.
func WithComposeOptions(opts ...ComposeOption) BlueprintOption {
	return func(b *Blueprint) {
		for _, opt := range opts {
			if opt != nil {
				b.options = append(b.options, opt)
			}
		}
	}
}

// NewBlueprint builds a Blueprint from the supplied configuration.
func NewBlueprint(opts ...BlueprintOption) *Blueprint {
	b := &Blueprint{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// New composes base with freshly constructed traits.
func (b *Blueprint) New(base any) (*Composed, error) {
	combined := make([]ComposeOption, 0, len(b.factories)+len(b.options))
	for _, factory := range b.factories {
		combined = append(combined, WithTrait(factory()))
	}
	combined = append(combined, b.options...)
	return Compose(base, combined...)
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

func bindMethod(name string, fn reflect.Value) MethodFunc {
	fnType := fn.Type()
	return func(args ...any) (any, error) {
		in, err := buildArgs(name, fnType, args)
		if err != nil {
			return nil, err
		}
		return splitResults(fn.Call(in))
	}
}

func buildArgs(name string, fnType reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := fnType.NumIn()
	if fnType.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, fmt.Errorf("traits: method %s expects at least %d args, got %d", name, numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, fmt.Errorf("traits: method %s expects %d args, got %d", name, numIn, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var param reflect.Type
		if fnType.IsVariadic() && i >= numIn-1 {
			param = fnType.In(numIn - 1).Elem()
		} else {
			param = fnType.In(i)
		}
		value, err := convertArg(name, i, arg, param)
		if err != nil {
			return nil, err
		}
		in[i] = value
	}
	return in, nil
}

func convertArg(name string, index int, arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch target.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return reflect.Zero(target), nil
		default:
			return reflect.Value{}, fmt.Errorf("traits: method %s argument %d: nil is not a valid %s", name, index, target)
		}
	}
	value := reflect.ValueOf(arg)
	if value.Type().AssignableTo(target) {
		return value, nil
	}
	if isNumericKind(value.Kind()) && isNumericKind(target.Kind()) && value.Type().ConvertibleTo(target) {
		return value.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("traits: method %s argument %d: cannot use %T as %s", name, index, arg, target)
}

func isNumericKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func splitResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	var err error
	last := out[len(out)-1]
	if last.Kind() == reflect.Interface && last.Type().Implements(errType) {
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	default:
		values := make([]any, len(out))
		for i, value := range out {
			values[i] = value.Interface()
		}
		return values, err
	}
}

func copyMetadata(origin map[string]any) map[string]any {
	if len(origin) == 0 {
		return nil
	}
	out := make(map[string]any, len(origin))
	for key, value := range origin {
		out[key] = value
	}
	return out
}
