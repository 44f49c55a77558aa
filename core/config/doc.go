// Package config fills configuration structs from environment variables.
//
// Fields are described with caarlos0/env tags. A .env file in the working
// directory is read once, before the first load, and never overrides
// variables already set in the process environment.
//
//	type ACMEConfig struct {
//		Email        string        `env:"ACME_EMAIL,required"`
//		PollInterval time.Duration `env:"ACME_POLL_INTERVAL" envDefault:"5s"`
//	}
//
//	var cfg ACMEConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// The first successful load of each struct type is cached, so later calls
// return the same values even if the environment changed in between. Tests
// that set variables call Reset first.
//
// MustLoad panics instead of returning an error and is meant for process
// startup only.
package config
