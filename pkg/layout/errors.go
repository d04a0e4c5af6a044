package layout

import "fmt"

// ConfigError reports layout metadata that is missing or unusable.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "layout: " + e.Reason
	}
	return fmt.Sprintf("layout: %s: %s", e.Reason, e.Field)
}
