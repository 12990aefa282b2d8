// Package config 负责加载和校验taskmaster的配置文档
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"taskmaster/pkg/utils/constants"
)

// 命令行的全局选项，由cmd包写入
var (
	ForegroundFlag bool
	LogLevelFlag   string
)

// Config 顶层配置文档
//
// 顶层设置走viper解码，支持默认值和TASKMASTER_*环境变量覆盖；
// programs段单独用yaml解码进有序表，保留声明顺序和键名大小写。
type Config struct {
	LoggingEnabled bool   `mapstructure:"logging_enabled" yaml:"logging_enabled"`
	LogFile        string `mapstructure:"log_file" yaml:"log_file"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level,omitempty"`
	PidFile        string `mapstructure:"pid_file" yaml:"pid_file,omitempty"`
	MetricsListen  string `mapstructure:"metrics_listen" yaml:"metrics_listen,omitempty"`
	WatchConfig    bool   `mapstructure:"watch_config" yaml:"watch_config,omitempty"`
	HistoryDir     string `mapstructure:"history_dir" yaml:"history_dir,omitempty"`

	Programs *orderedmap.OrderedMap[string, *ProgramConfig] `mapstructure:"-" yaml:"-"`

	path string
}

func setDefault(v *viper.Viper) {
	v.SetDefault("logging_enabled", true)
	v.SetDefault("log_file", constants.DaemonLogFilePath)
	v.SetDefault("log_level", constants.DefaultLogLevel)
	v.SetDefault("pid_file", constants.DaemonPidFilePath)
	v.SetDefault("metrics_listen", "")
	v.SetDefault("watch_config", false)
	v.SetDefault("history_dir", "")
}

// Load 读取并校验一份配置文档
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("TASKMASTER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefault(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config file %s: %w", path, err)
	}

	programs, err := loadPrograms(path)
	if err != nil {
		return nil, err
	}

	cfg.Programs = programs
	cfg.path = path

	return cfg, nil
}

// loadPrograms 解析programs段，每个条目构造成不可变的ProgramConfig
func loadPrograms(path string) (*orderedmap.OrderedMap[string, *ProgramConfig], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Programs *orderedmap.OrderedMap[string, *rawProgram] `yaml:"programs"`
	}

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Field: "programs", Reason: err.Error()}
	}

	out := orderedmap.New[string, *ProgramConfig]()
	if doc.Programs == nil {
		return out, nil
	}

	for pair := doc.Programs.Oldest(); pair != nil; pair = pair.Next() {
		program, err := newProgram(pair.Key, pair.Value)
		if err != nil {
			return nil, err
		}

		out.Set(pair.Key, program)
	}

	return out, nil
}

func (c *Config) Path() string {
	return c.path
}

// Reload 从同一路径重新加载，失败时不影响当前配置
func (c *Config) Reload() (*Config, error) {
	return Load(c.path)
}
