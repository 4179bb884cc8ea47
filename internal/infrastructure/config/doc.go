// Package config handles loading and validating Gray Logic Dispatch
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYDISPATCH_* environment variables
//   - Validation of required fields and cross references (items to PHIs)
//
// Driver-specific settings under drivers.phi[].config and items[].config
// are kept as raw maps here and decoded by the drivers themselves, so a
// bad driver block fails only that instance.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/graydispatch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
