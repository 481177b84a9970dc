package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/International-Combat-Archery-Alliance/email/v2"
	"github.com/International-Combat-Archery-Alliance/email/v2/gmail"
	"github.com/International-Combat-Archery-Alliance/email/v2/mailer"
	"github.com/International-Combat-Archery-Alliance/email/v2/sendgrid"
)

const (
	commandUseName          = "sendmail"
	commandShortDescription = "Send one email through a configured mailer"
	flagNameConfig          = "config"
	flagNameMailer          = "mailer"
	flagNameFrom            = "from"
	flagNameTo              = "to"
	flagNameCC              = "cc"
	flagNameBCC             = "bcc"
	flagNameReplyTo         = "reply-to"
	flagNameSubject         = "subject"
	flagNameText            = "text"
	flagNameHTML            = "html"
	flagNameAttach          = "attach"
	flagNameHeader          = "header"
	flagNameDebug           = "debug"
	defaultContentType      = "application/octet-stream"
)

var errInvalidHeader = errors.New("header must be formatted as name=value")

type options struct {
	configPath string
	mailerName string
	from       string
	to         []string
	cc         []string
	bcc        []string
	replyTo    []string
	subject    string
	text       string
	html       string
	attach     []string
	headers    []string
	debug      bool
}

// LoggerFactory builds the logger used for a run.
type LoggerFactory func(debug bool) (*zap.Logger, error)

type application struct {
	newLogger LoggerFactory
	stdout    io.Writer
}

func newApplication(stdout io.Writer) *application {
	return &application{
		newLogger: defaultLogger,
		stdout:    stdout,
	}
}

func defaultLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (app *application) command() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           commandUseName,
		Short:         commandShortDescription,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, flagNameConfig, "", "path to the mail configuration file")
	flags.StringVar(&opts.mailerName, flagNameMailer, "", "mailer to send through (defaults to the configured default)")
	flags.StringVar(&opts.from, flagNameFrom, "", "sender address (defaults to the configured from)")
	flags.StringSliceVar(&opts.to, flagNameTo, nil, "recipient address, repeatable")
	flags.StringSliceVar(&opts.cc, flagNameCC, nil, "cc address, repeatable")
	flags.StringSliceVar(&opts.bcc, flagNameBCC, nil, "bcc address, repeatable")
	flags.StringSliceVar(&opts.replyTo, flagNameReplyTo, nil, "reply-to address, repeatable")
	flags.StringVar(&opts.subject, flagNameSubject, "", "subject line")
	flags.StringVar(&opts.text, flagNameText, "", "plain text body")
	flags.StringVar(&opts.html, flagNameHTML, "", "HTML body")
	flags.StringArrayVar(&opts.attach, flagNameAttach, nil, "file to attach, repeatable")
	flags.StringArrayVar(&opts.headers, flagNameHeader, nil, "custom header as name=value, repeatable")
	flags.BoolVar(&opts.debug, flagNameDebug, false, "enable debug logging")

	return cmd
}

func (app *application) run(ctx context.Context, opts options) error {
	logger, err := app.newLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := mailer.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	manager := mailer.NewManager(cfg, logger)
	sendgrid.Register(manager, sendgrid.WithLogger(logger))
	gmail.Register(manager, logger)

	m, err := manager.Mailer(opts.mailerName)
	if err != nil {
		return err
	}

	e, err := buildEmail(opts)
	if err != nil {
		return err
	}
	if e.FromAddress == "" {
		e.FromAddress = m.From()
	}
	messageID := e.EnsureMessageID()

	if err := m.SendEmail(ctx, e); err != nil {
		logger.Error("send failed",
			zap.String("mailer", m.Name()),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return err
	}

	logger.Info("email sent",
		zap.String("mailer", m.Name()),
		zap.String("message_id", messageID),
		zap.Int("recipients", e.RecipientCount()),
	)
	_, _ = fmt.Fprintln(app.stdout, messageID)
	return nil
}

func buildEmail(opts options) (email.Email, error) {
	e := email.Email{
		FromAddress:      opts.from,
		ToAddresses:      opts.to,
		CCAddresses:      opts.cc,
		BCCAddresses:     opts.bcc,
		ReplyToAddresses: opts.replyTo,
		Subject:          opts.subject,
		TextBody:         opts.text,
		HTMLBody:         opts.html,
	}

	if len(opts.headers) > 0 {
		e.Headers = make(map[string]string, len(opts.headers))
		for _, h := range opts.headers {
			name, value, ok := strings.Cut(h, "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				return email.Email{}, fmt.Errorf("%w: %q", errInvalidHeader, h)
			}
			e.Headers[name] = strings.TrimSpace(value)
		}
	}

	for _, path := range opts.attach {
		content, err := os.ReadFile(path)
		if err != nil {
			return email.Email{}, fmt.Errorf("read attachment: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = defaultContentType
		}
		e.Attachments = append(e.Attachments, email.Attachment{
			FileName:    filepath.Base(path),
			Content:     content,
			ContentType: contentType,
		})
	}

	return e, nil
}

func main() {
	if err := newApplication(os.Stdout).command().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sendmail: %v\n", err)
		os.Exit(1)
	}
}
