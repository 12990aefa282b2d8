// Package shell 面向操作员的行式交互壳
package shell

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"taskmaster/pkg/history"
	"taskmaster/pkg/logger"
	"taskmaster/pkg/supervisor"
)

type command struct {
	Name        string
	Args        string
	Description string
}

var commands = []command{
	{Name: "status", Description: "Show the status of all programs"},
	{Name: "start", Args: "<name>", Description: "Start a program by name"},
	{Name: "stop", Args: "<name>", Description: "Stop a program by name"},
	{Name: "restart", Args: "<name>", Description: "Stop then start a program"},
	{Name: "reload", Description: "Reload the configuration file"},
	{Name: "history", Args: "<name>", Description: "Show recent lifecycle events of a program"},
	{Name: "help", Description: "List all commands"},
	{Name: "exit", Description: "Stop all programs and quit"},
}

// Shell 把操作员输入的指令分发给Registry
type Shell struct {
	registry *supervisor.Registry
	journal  *history.Journal
	router   *supervisor.SignalRouter

	closed chan struct{}
	logger *zap.SugaredLogger
}

func New(registry *supervisor.Registry, journal *history.Journal, router *supervisor.SignalRouter) *Shell {
	return &Shell{
		registry: registry,
		journal:  journal,
		router:   router,
		closed:   make(chan struct{}),
		logger:   logger.Logging("shell"),
	}
}

// Closed 壳退出后关闭
func (s *Shell) Closed() <-chan struct{} {
	return s.closed
}

// Loop 读一行执行一行，直到exit或者输入流断开
func (s *Shell) Loop() {
	defer close(s.closed)

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(s.complete)

	for {
		if s.router.ShutdownRequested() {
			return
		}

		input, err := line.Prompt("taskmaster> ")
		if err != nil {
			// Ctrl-C和EOF都当作退出请求
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				s.router.RequestShutdown()
				return
			}

			s.logger.Error(err)
			s.router.RequestShutdown()
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if s.dispatch(input) {
			return
		}
	}
}

func (s *Shell) complete(prefix string) []string {
	out := make([]string, 0)

	for _, cmd := range commands {
		if strings.HasPrefix(cmd.Name, strings.ToLower(prefix)) {
			out = append(out, cmd.Name)
		}
	}

	return out
}

// dispatch 执行一条指令，返回true表示壳应当退出
//
// 未知指令和缺参数只打一行错误，不改变任何状态。
func (s *Shell) dispatch(input string) bool {
	parts := strings.Fields(input)
	verb, args := parts[0], parts[1:]

	switch verb {
	case "status":
		if !s.wantArgs(verb, args, 0) {
			return false
		}

		for _, l := range s.registry.Status() {
			fmt.Println(l)
		}
	case "start":
		if !s.wantArgs(verb, args, 1) {
			return false
		}

		s.report(s.registry.Start(args[0]))
	case "stop":
		if !s.wantArgs(verb, args, 1) {
			return false
		}

		s.report(s.registry.Stop(args[0]))
	case "restart":
		if !s.wantArgs(verb, args, 1) {
			return false
		}

		s.report(s.registry.Restart(args[0]))
	case "reload":
		if !s.wantArgs(verb, args, 0) {
			return false
		}

		s.report(s.registry.Reload())
	case "history":
		if !s.wantArgs(verb, args, 1) {
			return false
		}

		s.printHistory(args[0])
	case "help":
		s.printHelp()
	case "exit":
		s.router.RequestShutdown()
		return true
	default:
		fmt.Printf("Unknown command %q, try 'help'\n", verb)
	}

	return false
}

func (s *Shell) wantArgs(verb string, args []string, n int) bool {
	if len(args) == n {
		return true
	}

	fmt.Printf("Error: expected %d argument(s) for %q\n", n, verb)

	return false
}

func (s *Shell) report(err error) {
	if err != nil {
		fmt.Println("Error:", err)
	}
}

func (s *Shell) printHistory(name string) {
	if _, ok := s.registry.Engine(name); !ok {
		fmt.Printf("Error: no program named %q\n", name)
		return
	}

	events, err := s.journal.Recent(name, 10)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	if len(events) == 0 {
		fmt.Println("No recorded events")
		return
	}

	for _, ev := range events {
		fmt.Printf("%s  %-9s pid %-7d %s\n", ev.At.Format("2006-01-02 15:04:05"), ev.Kind, ev.Pid, ev.Detail)
	}
}

func (s *Shell) printHelp() {
	fmt.Println("Commands:")

	for _, cmd := range commands {
		usage := cmd.Name
		if cmd.Args != "" {
			usage = fmt.Sprintf("%s %s", cmd.Name, cmd.Args)
		}

		fmt.Printf("  %-18s %s\n", usage, cmd.Description)
	}
}
