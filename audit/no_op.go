package audit

var _ Logger = (*NoOpLogger)(nil)

// NoOpLogger swallows everything. It stands in whenever auditing is
// disabled or no logger was supplied, so callers never branch on nil.
type NoOpLogger struct{}

func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	return nil
}

func (n *NoOpLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{}, nil
}

func (n *NoOpLogger) Close() error {
	return nil
}
