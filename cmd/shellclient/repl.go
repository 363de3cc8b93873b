package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"shellserver/internal/command"
	"shellserver/internal/pipeproto"
)

var catalogue = command.NewRegistry()

// installSignalHandlers mirrors spec §5's client-side signal set:
// interrupt/quit/terminate disconnect gracefully (send "exit", await the
// farewell), SIGUSR1 (server emergency teardown) and SIGUSR2 (response
// deadline exceeded) trigger local cleanup and exit without trying to talk
// to a server that is already gone or unresponsive.
func (s *clientSession) installSignalHandlers() {
	graceful := make(chan os.Signal, 1)
	signal.Notify(graceful, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-graceful
		s.disconnect()
		os.Exit(0)
	}()

	abrupt := make(chan os.Signal, 1)
	signal.Notify(abrupt, unix.SIGUSR1, unix.SIGUSR2)
	go func() {
		sig := <-abrupt
		if sig == unix.SIGUSR1 {
			s.logger.Warn("server is tearing down, disconnecting")
		} else {
			s.logger.Warn("response deadline exceeded, disconnecting")
		}
		s.cleanup()
		os.Exit(1)
	}()
}

// disconnect sends the exit sentinel and prints the farewell, best-effort,
// before the caller tears down local state.
func (s *clientSession) disconnect() {
	resp, err := s.send(pipeproto.ExitSentinel)
	if err != nil {
		s.logger.Debug("farewell exchange failed", zap.Error(err))
	} else {
		fmt.Println(string(resp))
	}
	s.cleanup()
}

// runREPL drives the interactive go-prompt loop: each line is locally
// validated against the known catalogue before it is ever sent, mirroring
// the original client's is_command_available pre-check.
func (s *clientSession) runREPL() {
	executor := func(line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return
		}
		if trimmed == pipeproto.ExitSentinel {
			s.disconnect()
			os.Exit(0)
		}
		if !catalogue.IsKnown(trimmed) {
			fmt.Fprintf(os.Stderr, "Commande invalide : %s\n", trimmed)
			return
		}

		resp, err := s.send(trimmed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "le serveur ne répond plus: %v\n", err)
			s.cleanup()
			os.Exit(1)
		}
		fmt.Print(string(resp))
	}

	completer := func(d prompt.Document) []prompt.Suggest {
		word := d.GetWordBeforeCursor()
		if word == "" {
			return nil
		}
		var suggestions []prompt.Suggest
		for _, verb := range commandVerbs {
			suggestions = append(suggestions, prompt.Suggest{Text: verb})
		}
		return prompt.FilterHasPrefix(suggestions, word, true)
	}

	p := prompt.New(executor, completer,
		prompt.OptionPrefix("> "),
		prompt.OptionTitle("shellclient"),
	)
	p.Run()
}

// commandVerbs backs the REPL's tab-completion; kept in sync with
// internal/command.Registry's catalogue by hand since the external
// allow-list and built-ins live in separate maps there.
var commandVerbs = []string{"ls", "ps", "pwd", "rm", "exit", "help", "info", "uinfo", "ccp", "lsl"}
