package adapter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Identity names the adapter in results and health reports.
type Identity struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// Bank describes the single bank this adapter owns.
type Bank struct {
	ID             string `yaml:"id"`
	ShortName      string `yaml:"shortName"`
	FullName       string `yaml:"fullName"`
	LogoURL        string `yaml:"logoUrl"`
	WebsiteURL     string `yaml:"websiteUrl"`
	RoutingScheme  string `yaml:"routingScheme"`
	RoutingAddress string `yaml:"routingAddress"`
}

// Profile bundles identity, bank descriptor and the synthetic account data the
// handlers serve. It is loaded once and never mutated afterwards.
type Profile struct {
	Identity         Identity `yaml:"identity"`
	Bank             Bank     `yaml:"bank"`
	Currency         string   `yaml:"currency"`
	IBANPrefix       string   `yaml:"ibanPrefix"`
	AvailableBalance string   `yaml:"availableBalance"`
	SavingsBalance   string   `yaml:"savingsBalance"`
	DefaultAccountID string   `yaml:"defaultAccountId"`
}

// DefaultProfile returns the built-in mock bank.
func DefaultProfile() Profile {
	return Profile{
		Identity: Identity{
			Name:        "obp-mock-adapter",
			Version:     "1.0.0",
			Description: "Mock core-banking adapter for OBP-API",
		},
		Bank: Bank{
			ID:             "mybank-01",
			ShortName:      "MyBank",
			FullName:       "My Bank",
			LogoURL:        "https://static.mybank.example/logo.png",
			WebsiteURL:     "https://www.mybank.example",
			RoutingScheme:  "BIC",
			RoutingAddress: "MYBKDEFFXXX",
		},
		Currency:         "EUR",
		IBANPrefix:       "DE89370400",
		AvailableBalance: "10000.00",
		SavingsBalance:   "25000.00",
		DefaultAccountID: "account-001",
	}
}

// LoadProfile starts from DefaultProfile and overlays the YAML file at path.
// An empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read adapter profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return Profile{}, fmt.Errorf("parse adapter profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, fmt.Errorf("adapter profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate checks the fields handlers rely on.
func (p Profile) Validate() error {
	switch {
	case p.Identity.Name == "":
		return fmt.Errorf("identity.name is required")
	case p.Bank.ID == "":
		return fmt.Errorf("bank.id is required")
	case p.Currency == "":
		return fmt.Errorf("currency is required")
	}
	if _, err := parseAmount(p.AvailableBalance); err != nil {
		return fmt.Errorf("availableBalance: %w", err)
	}
	if _, err := parseAmount(p.SavingsBalance); err != nil {
		return fmt.Errorf("savingsBalance: %w", err)
	}
	return nil
}
