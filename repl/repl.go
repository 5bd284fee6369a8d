// Package repl implements the command loop and prompt: reading a line,
// tokenizing it, and dispatching to the session orchestrator. Deliberately
// thin — trivial enough that it's specified only at its interface.
//
// Modeled on the get_next_command loop in the CS110L "deet" debugger this
// was ported from, which drives rustyline the same way this drives
// chzyer/readline: load history on start, ^C prints a reminder and
// re-prompts, ^D quits, blank lines are ignored, and every accepted line is
// appended to the history file on a best-effort basis.
package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nielswarden/deet/session"
)

const prompt = "(deet) "

// Run drives the command loop against sess until the user quits (q/quit
// or ^D). It returns only once the loop has exited; the caller's process
// should exit 0 afterward.
func Run(sess *session.Session) error {
	historyPath, err := historyFile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: couldn't determine history file path:", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "^D",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			fmt.Println(`Type "quit" to exit`)
			continue

		case err == io.EOF:
			sess.Quit()
			return nil

		case err != nil:
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		cmd, args := tokens[0], tokens[1:]

		if !dispatch(sess, cmd, args) {
			fmt.Println("unrecognized command:", cmd)
			continue
		}

		if cmd == "q" || cmd == "quit" {
			return nil
		}
	}
}

// dispatch runs the command named by cmd with args against sess. Returns
// false if cmd isn't one of the recognized aliases.
func dispatch(sess *session.Session, cmd string, args []string) bool {
	switch cmd {
	case "q", "quit":
		sess.Quit()

	case "r", "run":
		sess.Run(args)

	case "c", "cont":
		sess.Continue()

	case "bt", "back", "backtrace":
		sess.Backtrace()

	case "br", "break":
		if len(args) != 1 {
			fmt.Println("usage: break <*0xADDR | LINE | FUNCTION>")
			return true
		}
		sess.Break(args[0])

	default:
		return false
	}

	return true
}

func historyFile() (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	return filepath.Join(home, ".deet_history"), nil
}
