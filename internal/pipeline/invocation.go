package pipeline

import (
	"strings"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// Invocation tokens accepted on the command line.
const (
	TokenMain  = "main"
	TokenLogs  = "logs"
	TokenInit  = "init"
	TokenSync  = "sync"
	TokenSeq   = "seq"
	TokenDebug = "DEBUG"
)

// Options selects what a run does.
type Options struct {
	Ops Ops
	// Namespaces in processing order
	Namespaces []string
	Debug      bool
}

// Selection is the parsed form of an invocation before namespace names are
// resolved.
type Selection struct {
	Ops   Ops
	Main  bool
	Logs  bool
	Debug bool
}

// ParseTokens reads the invocation token list. "seq" is accepted and has no
// effect since runs are always sequential.
func ParseTokens(tokens []string) (Selection, error) {
	var sel Selection
	for _, tok := range tokens {
		switch tok {
		case TokenMain:
			sel.Main = true
		case TokenLogs:
			sel.Logs = true
		case TokenInit:
			sel.Ops |= OpInit
		case TokenSync:
			sel.Ops |= OpSync
		case TokenDebug:
			sel.Debug = true
		case TokenSeq:
		default:
			return Selection{}, errors.Newf(errors.ErrorTypeValidation,
				"unknown token %q (expected one of %s)", tok,
				strings.Join([]string{TokenMain, TokenLogs, TokenInit, TokenSync, TokenSeq, TokenDebug}, ", "))
		}
	}
	return sel, nil
}

// Options resolves the selection against configured namespace names. The
// main namespace is always processed before the logs namespace.
func (s Selection) Options(run config.RunConfig) Options {
	opts := Options{Ops: s.Ops, Debug: s.Debug}
	if s.Main {
		opts.Namespaces = append(opts.Namespaces, run.MainNamespace)
	}
	if s.Logs {
		opts.Namespaces = append(opts.Namespaces, run.LogsNamespace)
	}
	return opts
}
