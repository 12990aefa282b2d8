package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"syscall"
)

// sigTable 允许用作stop_signal的信号集合
var sigTable = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGKILL": syscall.SIGKILL,
	"SIGSTOP": syscall.SIGSTOP,
	"SIGCONT": syscall.SIGCONT,
}

type AutoRestart string

const (
	RestartAlways     AutoRestart = "always"
	RestartNever      AutoRestart = "never"
	RestartUnexpected AutoRestart = "unexpected"
)

// ConfigError 配置字段不合法
type ConfigError struct {
	Program string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Program == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("config: %s: %s: %s", e.Program, e.Field, e.Reason)
}

// rawProgram 文档里一个program条目的解码目标
type rawProgram struct {
	Command              string   `yaml:"command"`
	Instances            int      `yaml:"instances"`
	AutoStart            bool     `yaml:"auto_start"`
	AutoRestart          string   `yaml:"auto_restart"`
	StartTime            int      `yaml:"start_time"`
	StopTime             int      `yaml:"stop_time"`
	RestartAttempts      int      `yaml:"restart_attempts"`
	StopSignal           string   `yaml:"stop_signal"`
	ExpectedExitCodes    []int    `yaml:"expected_exit_codes"`
	WorkingDirectory     string   `yaml:"working_directory"`
	Umask                *int     `yaml:"umask"`
	StdoutLog            string   `yaml:"stdout_log"`
	StderrLog            string   `yaml:"stderr_log"`
	EnvironmentVariables []string `yaml:"environment_variables"`
}

// ProgramConfig 一个program经过校验后的不可变配置
//
// StartTime是启动宽限期，单位秒；StopTime是优雅停止的预算，
// 单位是100毫秒一轮的轮数，超过预算后升级为SIGKILL。
type ProgramConfig struct {
	Name              string
	Command           string
	Instances         int
	AutoStart         bool
	AutoRestart       AutoRestart
	StartTime         int
	StopTime          int
	RestartAttempts   int
	StopSignal        string
	Signal            syscall.Signal
	ExpectedExitCodes []int
	WorkingDirectory  string
	Umask             int
	StdoutLog         string
	StderrLog         string
	Env               map[string]string
}

func newProgram(name string, raw *rawProgram) (*ProgramConfig, error) {
	if strings.TrimSpace(raw.Command) == "" {
		return nil, &ConfigError{Program: name, Field: "command", Reason: "must not be empty"}
	}

	if raw.Instances < 0 {
		return nil, &ConfigError{Program: name, Field: "instances", Reason: fmt.Sprintf("must be >= 0, got %d", raw.Instances)}
	}

	restart := AutoRestart(raw.AutoRestart)
	switch restart {
	case RestartAlways, RestartNever, RestartUnexpected:
	default:
		return nil, &ConfigError{Program: name, Field: "auto_restart", Reason: fmt.Sprintf("must be one of always/never/unexpected, got %q", raw.AutoRestart)}
	}

	if raw.StartTime < 0 {
		return nil, &ConfigError{Program: name, Field: "start_time", Reason: fmt.Sprintf("must be >= 0, got %d", raw.StartTime)}
	}

	if raw.StopTime < 0 {
		return nil, &ConfigError{Program: name, Field: "stop_time", Reason: fmt.Sprintf("must be >= 0, got %d", raw.StopTime)}
	}

	if raw.RestartAttempts < 0 {
		return nil, &ConfigError{Program: name, Field: "restart_attempts", Reason: fmt.Sprintf("must be >= 0, got %d", raw.RestartAttempts)}
	}

	sig, ok := sigTable[raw.StopSignal]
	if !ok {
		return nil, &ConfigError{Program: name, Field: "stop_signal", Reason: fmt.Sprintf("unknown signal %q", raw.StopSignal)}
	}

	umask := -1
	if raw.Umask != nil {
		umask = *raw.Umask
		if umask < -1 || umask > 0o777 {
			return nil, &ConfigError{Program: name, Field: "umask", Reason: fmt.Sprintf("must be -1 or within [0, 0777], got %d", umask)}
		}
	}

	env := make(map[string]string, len(raw.EnvironmentVariables))
	for _, entry := range raw.EnvironmentVariables {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, &ConfigError{Program: name, Field: "environment_variables", Reason: fmt.Sprintf("entry %q is not KEY=VALUE", entry)}
		}
		if _, dup := env[key]; dup {
			return nil, &ConfigError{Program: name, Field: "environment_variables", Reason: fmt.Sprintf("duplicate key %q", key)}
		}
		env[key] = value
	}

	codes := slices.Clone(raw.ExpectedExitCodes)
	if codes == nil {
		codes = []int{}
	}

	return &ProgramConfig{
		Name:              name,
		Command:           raw.Command,
		Instances:         raw.Instances,
		AutoStart:         raw.AutoStart,
		AutoRestart:       restart,
		StartTime:         raw.StartTime,
		StopTime:          raw.StopTime,
		RestartAttempts:   raw.RestartAttempts,
		StopSignal:        raw.StopSignal,
		Signal:            sig,
		ExpectedExitCodes: codes,
		WorkingDirectory:  raw.WorkingDirectory,
		Umask:             umask,
		StdoutLog:         raw.StdoutLog,
		StderrLog:         raw.StderrLog,
		Env:               env,
	}, nil
}

// Argv 把命令行按单个空格切分成参数表，不支持引号转义
func (c *ProgramConfig) Argv() []string {
	fields := strings.Split(c.Command, " ")
	argv := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			argv = append(argv, f)
		}
	}

	return argv
}

// ExpectsExit 判断退出码是否在期望列表内
func (c *ProgramConfig) ExpectsExit(code int) bool {
	return slices.Contains(c.ExpectedExitCodes, code)
}

// Environ 导出变量表，键名排序保证顺序稳定
func (c *ProgramConfig) Environ() []string {
	keys := slices.Sorted(maps.Keys(c.Env))

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}

	return env
}
