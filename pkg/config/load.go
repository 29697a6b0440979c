package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/common"
)

// metadataConfig reports metadata after parsing, which we use to track
// unknown keys.
func metadataConfig(md *mapstructure.Metadata) viper.DecoderConfigOption {
	return func(c *mapstructure.DecoderConfig) {
		c.Metadata = md
	}
}

// Load reads configPath into config. Any config format viper supports
// is accepted; files with an unrecognized extension are tried against
// every supported format.
func Load(config *Config, configPath string) error {
	viperInstance := viper.NewWithOptions(viper.KeyDelimiter("::"))

	ext := filepath.Ext(configPath)
	ext = strings.Replace(ext, ".", "", 1)

	if !common.Contains(viper.SupportedExts, ext) {
		ext = ""
	}

	switch ext {
	case "":
		var err error

		for _, configType := range viper.SupportedExts {
			viperInstance.SetConfigType(configType)
			viperInstance.SetConfigFile(configPath)

			err = viperInstance.ReadInConfig()
			if err == nil {
				break
			}
		}

		if err != nil {
			return fmt.Errorf("%w: failed to read %s, tried all supported config types", zerr.ErrBadConfig, configPath)
		}
	default:
		viperInstance.SetConfigFile(configPath)

		if err := viperInstance.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: failed to read %s: %w", zerr.ErrBadConfig, configPath, err)
		}
	}

	metaData := &mapstructure.Metadata{}

	decoderOpts := []viper.DecoderConfigOption{
		metadataConfig(metaData),
		viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()),
	}

	if err := viperInstance.UnmarshalExact(config, decoderOpts...); err != nil {
		return fmt.Errorf("%w: %w", zerr.ErrBadConfig, err)
	}

	if len(metaData.Keys) == 0 {
		return fmt.Errorf("%w: %s holds no key:value pairs", zerr.ErrBadConfig, configPath)
	}

	if len(metaData.Unused) > 0 {
		return fmt.Errorf("%w: unknown keys: %s", zerr.ErrBadConfig, strings.Join(metaData.Unused, ", "))
	}

	return nil
}
