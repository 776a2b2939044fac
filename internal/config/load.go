package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load reads and validates configuration from path (YAML, JSON, or TOML,
// by extension), adapted from the teacher's viper-backed bootstrap in
// cmd/server/main.go, generalized from flag-only inputs to a full config
// file since this module's surface (spec.md §6) is far larger than the
// teacher's handful of server flags.
func Load(path string) (*Root, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	root := Default()
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		decimalDecodeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(root, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if err := Validate(root); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return root, nil
}

// decimalDecodeHookFunc lets viper/mapstructure decode YAML/JSON scalars
// (strings, ints, floats) directly into decimal.Decimal fields, since
// shopspring/decimal isn't one of mapstructure's built-in conversions.
func decimalDecodeHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case decimal.Decimal:
			return v, nil
		default:
			return data, nil
		}
	}
}
