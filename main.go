package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/qbzgrab/qbzgrab/config"
	"github.com/qbzgrab/qbzgrab/constant"
	"github.com/qbzgrab/qbzgrab/log"
	"github.com/qbzgrab/qbzgrab/qobuz"
	"github.com/qbzgrab/qbzgrab/qobuz/types"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "qbzgrab",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "Qobuz Music Downloader",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:      "download",
				Usage:     "Download albums or tracks by link or id",
				ArgsUsage: "<link|id> [<link|id>...]",
				Action:    download,
			},
			//nolint:exhaustruct
			{
				Name:   "login",
				Usage:  "Login to Qobuz and print the session token",
				Action: login,
			},
			{
				Name:  "creds",
				Usage: "Application credential commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "discover",
						Usage:  "Force rediscovery of application credentials from the web player",
						Action: credsDiscover,
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func setup(cmd *cli.Command) (zerolog.Logger, *config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Info().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(log.Config(conf.Log))

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return logger, conf, nil
}

func download(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := setup(cmd)
	if nil != err {
		return err
	}

	if cmd.Args().Len() == 0 {
		return errors.New("at least one album or track link is required")
	}

	links := make([]types.Link, 0, cmd.Args().Len())
	for _, arg := range cmd.Args().Slice() {
		link, err := qobuz.ParseLink(arg)
		if nil != err {
			return err
		}
		links = append(links, link)
	}

	client, err := qobuz.NewClient(logger, conf.Qobuz)
	if nil != err {
		return fmt.Errorf("create qobuz client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			err = errors.Join(err, closeErr)
		}
	}()

	for _, link := range links {
		logger.Info().Str("kind", link.Kind.String()).Str("id", link.ID).Msg("Downloading")

		results, dlErr := client.DownloadLink(ctx, logger, link)
		renderResults(os.Stdout, results)
		if nil != dlErr {
			if errors.Is(dlErr, qobuz.ErrAlbumAborted) {
				logger.Error().Msg("Download aborted after repeated credential failure. Check your session token.")
				return exitCodeError(2)
			}

			return dlErr
		}
	}

	return nil
}

func renderResults(w io.Writer, results []types.DownloadResult) {
	if len(results) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Track", "Outcome", "Requested", "Delivered", "Detail"})
	for i, r := range results {
		delivered := "-"
		detail := r.Path
		switch r.Outcome {
		case types.OutcomeSuccess, types.OutcomePartialSuccess:
			delivered = r.DeliveredTier.String()
		case types.OutcomeFailed:
			if nil != r.Err {
				detail = r.Err.Error()
			}
		}

		t.AppendRow(table.Row{i + 1, r.Title, r.Outcome.String(), r.RequestedTier.String(), delivered, detail})
	}
	t.Render()
}

func login(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := setup(cmd)
	if nil != err {
		return err
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		logger.Error().Msg("No TTY detected. Login needs an interactive terminal.")
		return exitCodeError(1)
	}

	client, err := qobuz.NewClient(logger, conf.Qobuz)
	if nil != err {
		return fmt.Errorf("create qobuz client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			err = errors.Join(err, closeErr)
		}
	}()

	var email string
	emailPrompt := &survey.Input{ //nolint:exhaustruct
		Message: "Qobuz email:",
	}
	if err := survey.AskOne(emailPrompt, &email, survey.WithValidator(survey.Required)); nil != err {
		return fmt.Errorf("ask for email: %v", err)
	}

	var password string
	passwordPrompt := &survey.Password{ //nolint:exhaustruct
		Message: "Qobuz password:",
	}
	askOpts := []survey.AskOpt{
		survey.WithValidator(survey.Required),
		survey.WithHideCharacter('*'),
		survey.WithShowCursor(true),
	}
	if err := survey.AskOne(passwordPrompt, &password, askOpts...); nil != err {
		return fmt.Errorf("ask for password: %v", err)
	}

	result, err := client.Login(ctx, logger, email, password)
	if nil != err {
		if errors.Is(err, qobuz.ErrAuthRequired) {
			logger.Error().Msg("Login rejected. Check your email and password.")
			return exitCodeError(2)
		}

		return fmt.Errorf("login: %w", err)
	}

	logger.Info().Str("user_id", result.UserID).Msg("Logged in successfully")
	fmt.Fprintf(os.Stdout, "Add this to your environment (or .env file):\n")
	fmt.Fprintf(os.Stdout, "QBZ_USER_AUTH_TOKEN=%s\n", result.UserAuthToken)

	return nil
}

func credsDiscover(ctx context.Context, cmd *cli.Command) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := setup(cmd)
	if nil != err {
		return err
	}

	client, err := qobuz.NewClient(logger, conf.Qobuz)
	if nil != err {
		return fmt.Errorf("create qobuz client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			err = errors.Join(err, closeErr)
		}
	}()

	creds, err := client.DiscoverCredentials(ctx, logger)
	if nil != err {
		return fmt.Errorf("discover credentials: %w", err)
	}

	logger.
		Info().
		Str("app_id", creds.AppID).
		Bool("discovered", creds.Discovered).
		Msg("Application credentials discovered and persisted")

	return nil
}
