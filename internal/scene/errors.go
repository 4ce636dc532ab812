package scene

import (
	"errors"
	"fmt"
)

// ErrNoSimulation is returned for datasets that are recorded, not simulated.
var ErrNoSimulation = errors.New("dataset has no simulated scenes")

// ConfigurationError aborts one minute: its parameters, talkers, noise pool or
// templates are unusable. Other minutes are unaffected.
type ConfigurationError struct {
	Dataset int
	Session int
	Minute  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for D%d S%d M%s: %v", e.Dataset, e.Session, e.Minute, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
