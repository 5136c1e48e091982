package traits

// ProgramCache stores compiled gate programs keyed by expression strings.
// Implementations are supplied by the consumer; a nil cache compiles on
// every use.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}
