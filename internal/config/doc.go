// Package config loads and validates suddenly.json.
//
// Configuration is resolved exactly once per run: Load fills defaults for
// every unset field, loads an optional .env file from the project root,
// and applies environment overrides (SUDDENLY_ENV, PORT). Components
// downstream of Load never observe partial configuration.
package config
