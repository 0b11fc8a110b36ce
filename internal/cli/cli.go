// Package cli turns command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/kiln/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageText = `
kiln - declarative two-stage image builds with a weekly trigger.

Usage:
  kiln build  [options] RECIPE.hcl   Build an image from a recipe.
  kiln serve  [options] IMAGE        Run the image's trigger schedule.
  kiln push   [options] IMAGE        Publish an image to object storage.
  kiln export [options] IMAGE        Write an image tarball to disk.

Common options:
  -store DIR        Image store directory (default ".kiln").
  -log-format FMT   Log output format: 'text' or 'json' (default "text").
  -log-level LVL    Logging level: 'debug', 'info', 'warn', 'error' (default "info").

Run 'kiln COMMAND -h' for command-specific options.
`

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	if len(args) == 0 {
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}

	command := args[0]
	if command == "-h" || command == "--help" || command == "help" {
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}

	flagSet := flag.NewFlagSet("kiln "+command, flag.ContinueOnError)
	flagSet.SetOutput(output)

	storeFlag := flagSet.String("store", ".kiln", "Image store directory.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	cfg := app.Config{Command: command}

	var indexFlag, outputFlag, workdirFlag *string
	var endpointFlag, bucketFlag, accessKeyFlag, secretKeyFlag *string
	var sslFlag *bool

	switch command {
	case app.CommandBuild:
		indexFlag = flagSet.String("index", "", "Package index base URL.")
	case app.CommandServe:
		workdirFlag = flagSet.String("workdir", "", "Override the invocation working directory.")
	case app.CommandExport:
		outputFlag = flagSet.String("o", "", "Output tarball path (default IMAGE.tar).")
	case app.CommandPush:
		endpointFlag = flagSet.String("endpoint", "", "Object storage endpoint.")
		bucketFlag = flagSet.String("bucket", "", "Destination bucket.")
		accessKeyFlag = flagSet.String("access-key", "", "Object storage access key.")
		secretKeyFlag = flagSet.String("secret-key", "", "Object storage secret key.")
		sslFlag = flagSet.Bool("ssl", true, "Use TLS for object storage.")
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q, run 'kiln help'", command)}
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if flagSet.NArg() != 1 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("%s takes exactly one argument, run 'kiln help'", command)}
	}
	arg := flagSet.Arg(0)

	cfg.StoreDir = *storeFlag
	cfg.LogFormat = logFormat
	cfg.LogLevel = logLevel

	switch command {
	case app.CommandBuild:
		cfg.RecipePath = arg
		cfg.IndexURL = *indexFlag
	case app.CommandServe:
		cfg.ImageName = arg
		cfg.WorkDir = *workdirFlag
	case app.CommandExport:
		cfg.ImageName = arg
		cfg.OutputPath = *outputFlag
	case app.CommandPush:
		cfg.ImageName = arg
		cfg.Push.Endpoint = *endpointFlag
		cfg.Push.Bucket = *bucketFlag
		cfg.Push.AccessKey = *accessKeyFlag
		cfg.Push.SecretKey = *secretKeyFlag
		cfg.Push.UseSSL = *sslFlag
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
