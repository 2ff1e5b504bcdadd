package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set. Defaults are expected
// to have been applied first.
func (c *RelayConfig) Validate() error {
	if c.Provider.AuthURL == "" {
		return errors.New("provider.auth_url is required")
	}
	if c.Provider.BrokerURL == "" {
		return errors.New("provider.broker_url is required")
	}
	if c.Provider.Username == "" {
		return errors.New("provider.username is required")
	}
	if c.Provider.Password == "" {
		return errors.New("provider.password is required")
	}
	if c.Provider.InvestorID == "" {
		return errors.New("provider.investor_id is required")
	}

	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.Password == "" {
		return errors.New("database.password is required")
	}

	for i, w := range c.Market.Sessions {
		if w.Open == "" || w.Close == "" {
			return fmt.Errorf("market.sessions[%d]: open and close are required", i)
		}
	}

	for i, f := range c.Feeds {
		if f.Asset == "" {
			return fmt.Errorf("feeds[%d]: asset is required", i)
		}
		if len(f.Symbols) == 0 {
			return fmt.Errorf("feeds[%d]: at least one symbol is required", i)
		}
	}

	return nil
}
