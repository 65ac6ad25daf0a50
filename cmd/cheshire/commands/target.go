package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/facts"
	"github.com/ruivieira/cheshire/pkg/transports/local"
	sshrunner "github.com/ruivieira/cheshire/pkg/transports/ssh"
)

// passwordEnv holds the SSH password when password authentication is used.
const passwordEnv = "CHESHIRE_SSH_PASSWORD"

// targetOptions select where commands run.
type targetOptions struct {
	ssh             string
	sshKey          string
	knownHosts      string
	insecureHostKey bool
	workDir         string
}

func (o *targetOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ssh, "ssh", "", "run commands on user@host[:port] instead of locally")
	cmd.Flags().StringVar(&o.sshKey, "ssh-key", "", "private key for --ssh (default: agent, or $"+passwordEnv+")")
	cmd.Flags().StringVar(&o.knownHosts, "known-hosts", "", "known_hosts file for --ssh")
	cmd.Flags().BoolVar(&o.insecureHostKey, "insecure-ignore-host-key", false, "skip host key verification for --ssh")
	cmd.Flags().StringVar(&o.workDir, "workdir", "", "working directory for local commands")
}

// commandRunner is an engine.CommandRunner that may hold a connection.
type commandRunner interface {
	engine.CommandRunner
	io.Closer
}

type localCloser struct{ *local.Runner }

func (localCloser) Close() error { return nil }

// newRunner builds the local or SSH runner. stream receives live command
// output for local runs; it may be nil.
func (o *targetOptions) newRunner(ctx context.Context, stream io.Writer, logger zerolog.Logger) (commandRunner, error) {
	if o.ssh == "" {
		opts := []local.Option{local.WithLogger(logger)}
		if o.workDir != "" {
			opts = append(opts, local.WithWorkDir(o.workDir))
		}
		if stream != nil {
			opts = append(opts, local.WithStream(stream))
		}
		return localCloser{local.NewRunner(opts...)}, nil
	}

	cfg, err := sshrunner.ParseTarget(o.ssh)
	if err != nil {
		return nil, fmt.Errorf("invalid --ssh target: %w", err)
	}
	switch {
	case o.sshKey != "":
		cfg.AuthMethod = sshrunner.AuthMethodKey
		cfg.PrivateKeyPath = o.sshKey
	case os.Getenv(passwordEnv) != "":
		cfg.AuthMethod = sshrunner.AuthMethodPassword
		cfg.Password = os.Getenv(passwordEnv)
	}
	if o.knownHosts != "" {
		cfg.KnownHostsPath = o.knownHosts
	}
	cfg.StrictHostKeyChecking = !o.insecureHostKey
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runner, err := sshrunner.NewRunner(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := runner.Connect(ctx); err != nil {
		return nil, err
	}
	return runner, nil
}

// resolvePlatform returns the --platform override or detects the target's
// platform.
func resolvePlatform(ctx context.Context, override string, remote bool, runner engine.CommandRunner) (engine.Platform, error) {
	if override != "" {
		return engine.ParsePlatform(override)
	}
	if !remote {
		return facts.DetectLocal(), nil
	}
	p, err := facts.Detect(ctx, runner)
	if err != nil {
		return "", fmt.Errorf("failed to detect remote platform: %w", err)
	}
	log.Debug().Str("platform", string(p)).Msg("Detected remote platform")
	return p, nil
}

// parseParams turns key=value pairs into parameters. Each argument may hold
// several shell-quoted pairs, e.g. --param "a=1 b='two words'".
func parseParams(args []string) (engine.Parameters, error) {
	params := engine.Parameters{}
	for _, arg := range args {
		words, err := shellquote.Split(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", arg, err)
		}
		for _, word := range words {
			key, value, ok := strings.Cut(word, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid --param %q: expected key=value", word)
			}
			params[key] = value
		}
	}
	return params, nil
}
