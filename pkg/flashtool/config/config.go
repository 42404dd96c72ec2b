// Package config loads the application configuration, the settings
// document describing what to install, and detects how the installer was
// started.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arthur-debert/flashtool/pkg/flashtool/operations"
)

// EnvPrefix prefixes every environment override, e.g. FLASHTOOL_LOG_LEVEL.
const EnvPrefix = "FLASHTOOL"

// AppConfig is the installer's own configuration, as opposed to the
// settings document that describes the installation.
type AppConfig struct {
	SettingsPath     string           `mapstructure:"settings_path"`
	PartialFlashFile string           `mapstructure:"partial_flash_marker"`
	ByLabelDir       string           `mapstructure:"by_label_dir"`
	LogLevel         string           `mapstructure:"log_level"`
	MetricsFile      string           `mapstructure:"metrics_file"`
	SettleDelay      time.Duration    `mapstructure:"settle_delay"`
	RebootDelay      time.Duration    `mapstructure:"reboot_delay"`
	DeviceWait       time.Duration    `mapstructure:"device_wait"`
	Paths            operations.Paths `mapstructure:"paths"`
	Tools            operations.Tools `mapstructure:"tools"`
}

// Defaults returns the configuration used on the installer image.
func Defaults() AppConfig {
	paths := operations.DefaultPaths()
	return AppConfig{
		SettingsPath:     "/boot/sysconfig/sysrestore.json",
		PartialFlashFile: paths.BootMedium + "/" + operations.PartialFlashMarker,
		ByLabelDir:       operations.ByLabelDir,
		LogLevel:         "info",
		SettleDelay:      5 * time.Second,
		RebootDelay:      10 * time.Second,
		DeviceWait:       10 * time.Second,
		Paths:            paths,
		Tools:            operations.DefaultTools(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("settings_path", d.SettingsPath)
	v.SetDefault("partial_flash_marker", d.PartialFlashFile)
	v.SetDefault("by_label_dir", d.ByLabelDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("reboot_delay", d.RebootDelay)
	v.SetDefault("device_wait", d.DeviceWait)

	v.SetDefault("paths.boot_medium", d.Paths.BootMedium)
	v.SetDefault("paths.recovery_mount", d.Paths.RecoveryMount)
	v.SetDefault("paths.temp_dir", d.Paths.TempDir)
	v.SetDefault("paths.state_dir", d.Paths.StateDir)
	v.SetDefault("paths.uboot_backup", d.Paths.UBootBackup)

	t := d.Tools
	for key, val := range map[string]string{
		"fdisk":         t.Fdisk,
		"gdisk":         t.Gdisk,
		"dd":            t.DD,
		"bunzip2":       t.Bunzip2,
		"mkfs_prefix":   t.MkfsPrefix,
		"mount":         t.Mount,
		"umount":        t.Umount,
		"flash_erase":   t.FlashErase,
		"kobs_ng":       t.KobsNG,
		"nandwrite":     t.Nandwrite,
		"ubiformat":     t.Ubiformat,
		"ubiattach":     t.Ubiattach,
		"ubidetach":     t.Ubidetach,
		"ubimkvol":      t.Ubimkvol,
		"ubiupdatevol":  t.Ubiupdatevol,
		"fw_setenv":     t.FwSetenv,
		"fw_printenv":   t.FwPrintenv,
		"fw_env_config": t.FwEnvConfig,
	} {
		v.SetDefault("tools."+key, val)
	}
}

// New returns a viper instance carrying the defaults and the FLASHTOOL_
// environment overrides. Nested keys use underscores: FLASHTOOL_TOOLS_DD.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional YAML file at path on top of the defaults and the
// environment. An empty path loads defaults and environment only.
func Load(v *viper.Viper, path string) (*AppConfig, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.SettingsPath == "" {
		return nil, fmt.Errorf("settings_path must not be empty")
	}
	return &cfg, nil
}
