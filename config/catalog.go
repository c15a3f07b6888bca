package config

import (
	"strings"

	"promptforge/internal/domain/plans"

	"github.com/spf13/viper"
)

// LoadCatalog reads catalog.yml (price -> tier table, allotments, token
// packages, legacy grants). Built-in defaults apply when no file exists.
func LoadCatalog(paths ...string) (plans.Catalog, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{"/etc/promptforge", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("PROMPTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return plans.Catalog{}, err
		}
		return plans.DefaultCatalog(), nil
	}

	var cfg plans.Catalog
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return plans.Catalog{}, err
	}
	if cfg.LegacyGrants == nil {
		cfg.LegacyGrants = plans.DefaultCatalog().LegacyGrants
	}
	if err := cfg.Validate(); err != nil {
		return plans.Catalog{}, err
	}
	return cfg, nil
}
