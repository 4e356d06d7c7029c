// Package config loads devflow configuration.
//
// Values come from a YAML file (devflow.yml, cmd/devflow/config.yml,
// config.yml or ~/.devflow/config.yml), an optional .env file and
// DEVFLOW_* environment variables, in increasing order of precedence.
//
//	var cfg AppConfig
//	if err := config.LoadConfig("devflow", &cfg); err != nil {
//	    return err
//	}
//	cfg.ApplyDefaults()
package config
