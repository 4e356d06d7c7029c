package bootstrap

import (
	"github.com/kbukum/devflow/config"
)

// Config is the constraint for application config types. A struct that
// embeds config.ServiceConfig gets GetServiceConfig for free and only has
// to forward ApplyDefaults and Validate for its own sections.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
