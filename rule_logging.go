package traits

import "time"

// RuleLogEvent describes one gate evaluation for logging.
type RuleLogEvent struct {
	Method   string
	Expr     string
	Verdict  bool
	Duration time.Duration
	Err      error
}

// RuleLogger records gate evaluations.
type RuleLogger interface {
	LogRule(RuleLogEvent)
}

// RuleLoggerFunc adapts a function to RuleLogger.
type RuleLoggerFunc func(RuleLogEvent)

// LogRule implements RuleLogger.
func (f RuleLoggerFunc) LogRule(event RuleLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopRuleLogger struct{}

func (noopRuleLogger) LogRule(RuleLogEvent) {}
