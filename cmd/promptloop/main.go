// promptloop runs the agent loop once from the command line, or serves it
// over HTTP (and on AWS Lambda when deployed there).
//
// Usage:
//
//	promptloop run --config FILE [--input TEXT|-] [--transcript PATH|s3://bucket/key]
//	promptloop serve [--addr :8080] [--api-key KEY] [--jwt-secret SECRET]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Songmu/flextime"
	"github.com/mashiike/promptloop"
	"github.com/mashiike/promptloop/awsadp"
	_ "github.com/mashiike/promptloop/model/bedrock"
	_ "github.com/mashiike/promptloop/model/ollama"
	_ "github.com/mashiike/promptloop/model/openai"
	"github.com/mashiike/promptloop/server"
	"github.com/mashiike/promptloop/tooling"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registerBuiltinTools()
	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:])
	case "serve":
		return serveCommand(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  promptloop run --config FILE [--input TEXT|-] [--transcript PATH|s3://bucket/key]
  promptloop serve [--addr :8080] [--api-key KEY] [--jwt-secret SECRET]
`)
}

func setupLogger(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

func runCommand(ctx context.Context, args []string) error {
	var configPath, input, transcript, logLevel string
	flagSet := pflag.NewFlagSet("promptloop run", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the JSON configuration file (required)")
	flagSet.StringVarP(&input, "input", "i", "-", "input text, or - to read standard input")
	flagSet.StringVar(&transcript, "transcript", "", "write a JSONL transcript to this path or s3://bucket/key")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := setupLogger(logLevel); err != nil {
		return err
	}
	if configPath == "" {
		return errors.New("--config is required")
	}
	config, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if input == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input = strings.TrimRight(string(b), "\n")
	}

	agent := &promptloop.Agent{}
	if transcript != "" {
		rec, closer, err := openTranscript(ctx, transcript)
		if err != nil {
			return err
		}
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Warn("failed to close transcript", "error", err)
			}
		}()
		agent.Recorder = rec
	}

	out, err := agent.Execute(ctx, input, string(config))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func openTranscript(ctx context.Context, target string) (promptloop.Recorder, io.Closer, error) {
	if strings.HasPrefix(target, "s3://") {
		rec, err := awsadp.NewS3RecorderFromURL(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return rec, rec, nil
	}
	rec, err := promptloop.OpenTranscriptFile(target)
	if err != nil {
		return nil, nil, err
	}
	return rec, rec, nil
}

func serveCommand(ctx context.Context, args []string) error {
	var addr, apiKey, jwtSecret, jwtAudience, logLevel string
	flagSet := pflag.NewFlagSet("promptloop serve", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", envOr("PROMPTLOOP_ADDR", ":8080"), "listen address")
	flagSet.StringVar(&apiKey, "api-key", os.Getenv("PROMPTLOOP_API_KEY"), "require this value in the X-API-Key header")
	flagSet.StringVar(&jwtSecret, "jwt-secret", os.Getenv("PROMPTLOOP_JWT_SECRET"), "accept HS256 bearer tokens signed with this secret")
	flagSet.StringVar(&jwtAudience, "jwt-audience", os.Getenv("PROMPTLOOP_JWT_AUDIENCE"), "expected aud claim of bearer tokens")
	flagSet.StringVar(&logLevel, "log-level", envOr("PROMPTLOOP_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := setupLogger(logLevel); err != nil {
		return err
	}

	var auth server.AnyAuthenticator
	if apiKey != "" {
		auth = append(auth, server.StaticAPIKeyAuthenticator{APIKey: apiKey})
	}
	if jwtSecret != "" {
		auth = append(auth, server.NewJWTAuthenticator([]byte(jwtSecret)).WithAudience(jwtAudience))
	}
	s := &server.Server{
		Addr:   addr,
		Runner: &promptloop.Agent{},
	}
	if len(auth) > 0 {
		s.Authenticator = auth
	}
	return s.RunWithContext(ctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func registerBuiltinTools() {
	tooling.Register(tooling.NewTool(
		"current_time",
		"Returns the current time in RFC 3339 format. Optional argument: timezone (IANA name).",
		json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`),
		func(ctx context.Context, args json.RawMessage) (*tooling.Result, error) {
			var in struct {
				Timezone string `json:"timezone"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			now := flextime.Now()
			if in.Timezone != "" {
				loc, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return nil, err
				}
				now = now.In(loc)
			}
			return &tooling.Result{Output: now.Format(time.RFC3339)}, nil
		},
	))
}
