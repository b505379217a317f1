package database

import (
	"context"
	"fmt"
	"os"

	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type SeedUser struct {
	ID            string `yaml:"id"`
	FirstName     string `yaml:"first_name"`
	LastName      string `yaml:"last_name"`
	Username      string `yaml:"username"`
	WalletBalance string `yaml:"wallet_balance"`
}

type SeedCompany struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Acronym         string `yaml:"acronym"`
	Description     string `yaml:"description"`
	CurrentPrice    string `yaml:"current_price"`
	TempPrice       string `yaml:"temp_price"`
	CurrentChange   string `yaml:"current_change"`
	CurrentVisitors int64  `yaml:"current_visitors"`
	CurrentReturn   string `yaml:"current_return"`
}

type Seed struct {
	Users     []SeedUser    `yaml:"users"`
	Companies []SeedCompany `yaml:"companies"`
}

// LoadSeed reads a YAML fixture of users and companies
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	for i, u := range seed.Users {
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("user at index %d missing id or username", i)
		}
	}
	for i, c := range seed.Companies {
		if c.ID == "" || c.Acronym == "" {
			return nil, fmt.Errorf("company at index %d missing id or acronym", i)
		}
		if c.CurrentPrice == "" {
			return nil, fmt.Errorf("company %s missing current_price", c.Acronym)
		}
	}

	return &seed, nil
}

// Apply inserts every user and company whose id is not present yet, so it
// can run on every boot. It returns how many records were inserted.
func (s *Seed) Apply(ctx context.Context, store *ledger.Database) (int, error) {
	inserted := 0

	for _, su := range s.Users {
		existing, err := store.GetUser(ctx, su.ID)
		if err != nil {
			return inserted, err
		}
		if existing != nil {
			continue
		}

		wallet := ledger.DefaultWalletBalance
		if su.WalletBalance != "" {
			if wallet, err = decimal.NewFromString(su.WalletBalance); err != nil {
				return inserted, fmt.Errorf("user %s wallet_balance: %w", su.ID, err)
			}
		}

		if err := store.CreateUser(ctx, &types.User{
			ID:            su.ID,
			FirstName:     su.FirstName,
			LastName:      su.LastName,
			Username:      su.Username,
			WalletBalance: wallet,
		}); err != nil {
			return inserted, fmt.Errorf("seed user %s: %w", su.ID, err)
		}
		inserted++
	}

	for _, sc := range s.Companies {
		existing, err := store.GetCompany(ctx, sc.ID)
		if err != nil {
			return inserted, err
		}
		if existing != nil {
			continue
		}

		company, err := sc.company()
		if err != nil {
			return inserted, err
		}
		if err := store.CreateCompany(ctx, company); err != nil {
			return inserted, fmt.Errorf("seed company %s: %w", sc.Acronym, err)
		}
		inserted++
	}

	return inserted, nil
}

func (sc SeedCompany) company() (*types.Company, error) {
	parse := func(field, raw string) (decimal.Decimal, error) {
		if raw == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("company %s %s: %w", sc.Acronym, field, err)
		}
		return d, nil
	}

	current, err := parse("current_price", sc.CurrentPrice)
	if err != nil {
		return nil, err
	}
	temp := current
	if sc.TempPrice != "" {
		if temp, err = parse("temp_price", sc.TempPrice); err != nil {
			return nil, err
		}
	}
	change, err := parse("current_change", sc.CurrentChange)
	if err != nil {
		return nil, err
	}
	ret, err := parse("current_return", sc.CurrentReturn)
	if err != nil {
		return nil, err
	}

	return &types.Company{
		ID:              sc.ID,
		Name:            sc.Name,
		Acronym:         sc.Acronym,
		Description:     sc.Description,
		CurrentPrice:    current,
		TempPrice:       temp,
		CurrentChange:   change,
		CurrentVisitors: sc.CurrentVisitors,
		CurrentReturn:   ret,
	}, nil
}
