// Package config loads and validates Fleet Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by FLEETCORE_* environment variables. The result
// is validated before use so the rest of the application can assume a
// well-formed Config.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := mqtt.Connect(cfg.MQTT)
package config
