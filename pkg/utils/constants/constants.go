// Package constants
package constants

import (
	"fmt"
	"os"
)

const (
	DefaultLogLevel   = "info"
	DefaultDaemonName = "taskmaster"
)

var TaskmasterHome = getHome()

var DaemonLogFilePath = getDaemonPath("log")
var DaemonPidFilePath = getDaemonPath("pid")
var HistoryDirPath = fmt.Sprintf("%s/history", TaskmasterHome)

func getHome() string {
	return fmt.Sprintf("%s/.taskmaster", os.Getenv("HOME"))
}

func getDaemonPath(suffix string) string {
	return fmt.Sprintf("%s/%s.%s", TaskmasterHome, DefaultDaemonName, suffix)
}
