package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Diff 两份program配置之间的字段级变更集，值是新值的序列化形式
type Diff map[string]string

// hotFields 可以热更新的字段，其余字段变更都要求重启
var hotFields = map[string]bool{
	"umask": true,
}

func (d Diff) Empty() bool {
	return len(d) == 0
}

// RequiresRestart 变更集中是否含有必须重启才能生效的字段
func (d Diff) RequiresRestart() bool {
	for field := range d {
		if !hotFields[field] {
			return true
		}
	}

	return false
}

// InstancesOnly 是否只有副本数发生了变化，这种情况走扩缩容而不是重启
func (d Diff) InstancesOnly() bool {
	if len(d) != 1 {
		return false
	}

	_, ok := d["instances"]

	return ok
}

func (d Diff) Fields() []string {
	return slices.Sorted(maps.Keys(d))
}

// Compare 逐字段对比两份已校验的配置
func Compare(oldCfg, newCfg *ProgramConfig) Diff {
	d := make(Diff)

	if oldCfg.Command != newCfg.Command {
		d["command"] = newCfg.Command
	}
	if oldCfg.Instances != newCfg.Instances {
		d["instances"] = strconv.Itoa(newCfg.Instances)
	}
	if oldCfg.AutoStart != newCfg.AutoStart {
		d["auto_start"] = strconv.FormatBool(newCfg.AutoStart)
	}
	if oldCfg.AutoRestart != newCfg.AutoRestart {
		d["auto_restart"] = string(newCfg.AutoRestart)
	}
	if oldCfg.StartTime != newCfg.StartTime {
		d["start_time"] = strconv.Itoa(newCfg.StartTime)
	}
	if oldCfg.StopTime != newCfg.StopTime {
		d["stop_time"] = strconv.Itoa(newCfg.StopTime)
	}
	if oldCfg.RestartAttempts != newCfg.RestartAttempts {
		d["restart_attempts"] = strconv.Itoa(newCfg.RestartAttempts)
	}
	if oldCfg.StopSignal != newCfg.StopSignal {
		d["stop_signal"] = newCfg.StopSignal
	}
	if !slices.Equal(oldCfg.ExpectedExitCodes, newCfg.ExpectedExitCodes) {
		d["expected_exit_codes"] = serializeCodes(newCfg.ExpectedExitCodes)
	}
	if oldCfg.WorkingDirectory != newCfg.WorkingDirectory {
		d["working_directory"] = newCfg.WorkingDirectory
	}
	if oldCfg.Umask != newCfg.Umask {
		d["umask"] = strconv.Itoa(newCfg.Umask)
	}
	if oldCfg.StdoutLog != newCfg.StdoutLog {
		d["stdout_log"] = newCfg.StdoutLog
	}
	if oldCfg.StderrLog != newCfg.StderrLog {
		d["stderr_log"] = newCfg.StderrLog
	}
	if !maps.Equal(oldCfg.Env, newCfg.Env) {
		d["environment_variables"] = serializeEnv(newCfg.Env)
	}

	return d
}

func serializeCodes(codes []int) string {
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, strconv.Itoa(c))
	}

	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

func serializeEnv(env map[string]string) string {
	keys := slices.Sorted(maps.Keys(env))

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, env[k]))
	}

	return strings.Join(parts, ";")
}
