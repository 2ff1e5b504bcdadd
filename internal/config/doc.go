// Package config loads and validates the relay configuration.
//
// Configuration is a YAML file with ${VAR} environment expansion, so
// secrets (provider password, database password, access token) come from
// the environment. Validation fails fast on any missing required value;
// the service never attempts a partial connection.
package config
