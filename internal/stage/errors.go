package stage

import "fmt"

// ConfigurationError reports a missing or invalid pipeline definition. It is fatal
// for the deals routed to that pipeline and is reported apart from row-level findings.
type ConfigurationError struct {
	Pipeline string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Pipeline == "" {
		return fmt.Sprintf("stage: configuration: %s", e.Reason)
	}
	return fmt.Sprintf("stage: configuration: pipeline %q: %s", e.Pipeline, e.Reason)
}
