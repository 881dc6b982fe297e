package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Tier is a named stake level offered when creating a room.
type Tier struct {
	Name  string `json:"name"`
	Stake int64  `json:"stake"`
}

var DefaultTiers = []Tier{
	{Name: "bronze", Stake: 100},
	{Name: "silver", Stake: 500},
	{Name: "gold", Stake: 2500},
}

type Config struct {
	Env  string
	Addr string

	// DatabaseURL selects the postgres ledger; when empty the ledger uses LedgerPath (sqlite).
	DatabaseURL string
	LedgerPath  string
	StoragePath string

	StartingGrant int64
	HouseAccount  string

	DefaultStake     int64
	TurnTimeout      time.Duration
	Grace            time.Duration
	ForfeitOnAbandon bool
	RoomRetention    time.Duration
	SweepEvery       time.Duration
	ShutdownTimeout  time.Duration

	AllowedOrigins []string
	Tiers          []Tier
}

func Defaults() Config {
	return Config{
		Env:             "development",
		Addr:            ":8080",
		LedgerPath:      "durak-ledger.db",
		StoragePath:     "durak.db",
		StartingGrant:   1000,
		HouseAccount:    "house",
		DefaultStake:    100,
		TurnTimeout:     30 * time.Second,
		Grace:           45 * time.Second,
		RoomRetention:   10 * time.Minute,
		SweepEvery:      time.Minute,
		ShutdownTimeout: 15 * time.Second,
		Tiers:           DefaultTiers,
	}
}

func (c Config) Production() bool { return c.Env == "production" }

// Tier looks a stake tier up by name.
func (c Config) Tier(name string) (Tier, bool) {
	for _, t := range c.Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Tier{}, false
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from DURAK_* variables on top of Defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int64) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("DURAK_ENV", &c.Env)
	str("DURAK_ADDR", &c.Addr)
	str("DURAK_DATABASE_URL", &c.DatabaseURL)
	str("DURAK_LEDGER_PATH", &c.LedgerPath)
	str("DURAK_STORAGE_PATH", &c.StoragePath)
	str("DURAK_HOUSE_ACCOUNT", &c.HouseAccount)
	num("DURAK_STARTING_GRANT", &c.StartingGrant)
	num("DURAK_DEFAULT_STAKE", &c.DefaultStake)
	dur("DURAK_TURN_TIMEOUT", &c.TurnTimeout)
	dur("DURAK_GRACE", &c.Grace)
	dur("DURAK_ROOM_RETENTION", &c.RoomRetention)
	dur("DURAK_SWEEP_EVERY", &c.SweepEvery)
	dur("DURAK_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	if v, ok := lookup("DURAK_FORFEIT_ON_ABANDON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DURAK_FORFEIT_ON_ABANDON: %w", err))
		}
		c.ForfeitOnAbandon = b
	}
	if v, ok := lookup("DURAK_ALLOWED_ORIGINS"); ok && v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
	if path, ok := lookup("DURAK_TIERS_FILE"); ok && path != "" {
		tiers, err := LoadTiers(path)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.Tiers = tiers
		}
	}

	if err := multierr.Combine(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Env != "development" && c.Env != "production":
		return fmt.Errorf("DURAK_ENV must be development or production, got %q", c.Env)
	case c.DefaultStake <= 0:
		return fmt.Errorf("DURAK_DEFAULT_STAKE must be positive")
	case c.StartingGrant < 0:
		return fmt.Errorf("DURAK_STARTING_GRANT must not be negative")
	case c.HouseAccount == "":
		return fmt.Errorf("DURAK_HOUSE_ACCOUNT must be set")
	case c.TurnTimeout < 0 || c.Grace < 0:
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// LoadTiers reads a JSON array of {"name", "stake"} objects.
func LoadTiers(path string) ([]Tier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers: %w", err)
	}
	var tiers []Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, fmt.Errorf("parse tiers %s: %w", path, err)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tiers %s: no tiers defined", path)
	}
	for _, t := range tiers {
		if t.Name == "" || t.Stake <= 0 {
			return nil, fmt.Errorf("tiers %s: bad tier %+v", path, t)
		}
	}
	return tiers, nil
}
