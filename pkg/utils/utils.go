// Package utils
package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SupervisorPid 主控进程自身的PID
var SupervisorPid = os.Getpid()

// CheckSuperUser 主控进程只允许超级用户运行
func CheckSuperUser() error {
	if os.Geteuid() != 0 {
		return errors.New("taskmaster must be run as the super-user")
	}

	return nil
}

func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return &os.PathError{Op: "mkdir", Path: path, Err: os.ErrExist}
		}
		return nil
	}

	return os.MkdirAll(path, 0755)
}

func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1, fmt.Errorf("invalid pid file %s: %w", path, err)
	}

	return pid, nil
}

func WritePid(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}
