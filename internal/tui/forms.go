package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/wesm/mailtracker/internal/config"
	"github.com/wesm/mailtracker/internal/scheduler"
)

// SetupValues holds the setup form fields as the user edits them. Numbers
// stay strings until Apply so the inputs can show them.
type SetupValues struct {
	OutputRoot string
	SourceType string

	TenantID string
	ClientID string
	UserID   string

	ClientSecrets string
	GmailAccount  string

	IMAPHost     string
	IMAPPort     string
	IMAPUsername string
	IMAPSecurity string // tls, starttls or none
	IMAPMailbox  string

	MboxPath string

	Cron string
}

// IMAP security choices.
const (
	SecurityTLS      = "tls"
	SecuritySTARTTLS = "starttls"
	SecurityNone     = "none"
)

// NewSetupValues seeds the form from cfg.
func NewSetupValues(cfg *config.Config) *SetupValues {
	v := &SetupValues{
		OutputRoot:    cfg.Output.Root,
		SourceType:    cfg.Source.Type,
		TenantID:      cfg.Graph.TenantID,
		ClientID:      cfg.Graph.ClientID,
		UserID:        cfg.Graph.UserID,
		ClientSecrets: cfg.Gmail.ClientSecrets,
		GmailAccount:  cfg.Gmail.Account,
		IMAPHost:      cfg.IMAP.Host,
		IMAPUsername:  cfg.IMAP.Username,
		IMAPMailbox:   cfg.IMAP.Mailbox,
		MboxPath:      cfg.Mbox.Path,
		Cron:          cfg.Schedule.Cron,
		IMAPSecurity:  SecurityNone,
	}
	if v.SourceType == "" {
		v.SourceType = config.SourceGraph
	}
	if cfg.IMAP.Port > 0 {
		v.IMAPPort = strconv.Itoa(cfg.IMAP.Port)
	}
	switch {
	case cfg.IMAP.TLS:
		v.IMAPSecurity = SecurityTLS
	case cfg.IMAP.STARTTLS:
		v.IMAPSecurity = SecuritySTARTTLS
	}
	return v
}

// Apply copies the values into cfg. Only the selected source's section is
// touched; the others keep what the file had.
func (v *SetupValues) Apply(cfg *config.Config) error {
	cfg.Output.Root = strings.TrimSpace(v.OutputRoot)
	cfg.Source.Type = v.SourceType

	switch v.SourceType {
	case config.SourceGraph:
		cfg.Graph.TenantID = strings.TrimSpace(v.TenantID)
		cfg.Graph.ClientID = strings.TrimSpace(v.ClientID)
		cfg.Graph.UserID = strings.TrimSpace(v.UserID)
	case config.SourceGmail:
		cfg.Gmail.ClientSecrets = strings.TrimSpace(v.ClientSecrets)
		cfg.Gmail.Account = strings.TrimSpace(v.GmailAccount)
	case config.SourceIMAP:
		port, err := ParsePort(v.IMAPPort)
		if err != nil {
			return &config.ValidationError{Field: "imap.port", Message: err.Error()}
		}
		cfg.IMAP.Host = strings.TrimSpace(v.IMAPHost)
		cfg.IMAP.Port = port
		cfg.IMAP.Username = strings.TrimSpace(v.IMAPUsername)
		cfg.IMAP.Mailbox = strings.TrimSpace(v.IMAPMailbox)
		cfg.IMAP.TLS = v.IMAPSecurity == SecurityTLS
		cfg.IMAP.STARTTLS = v.IMAPSecurity == SecuritySTARTTLS
	case config.SourceMbox:
		cfg.Mbox.Path = strings.TrimSpace(v.MboxPath)
	default:
		return &config.ValidationError{Field: "source.type", Message: fmt.Sprintf("unknown source %q", v.SourceType)}
	}

	cfg.Schedule.Cron = strings.TrimSpace(v.Cron)
	cfg.Schedule.Enabled = cfg.Schedule.Cron != ""
	return nil
}

// ParsePort parses a TCP port; empty means the protocol default (0).
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validCron(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return scheduler.ValidateCronExpr(s)
}

// SetupForm builds the interactive setup form over v. Groups for sources
// other than the selected one are hidden.
func SetupForm(v *SetupValues) *huh.Form {
	not := func(source string) func() bool {
		return func() bool { return v.SourceType != source }
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Output folder").
				Description("Workbook, attachments and state.json are written here.").
				Value(&v.OutputRoot).
				Validate(required("output folder")),
			huh.NewSelect[string]().
				Title("Mail source").
				Options(
					huh.NewOption("Microsoft 365 / Outlook (Graph)", config.SourceGraph),
					huh.NewOption("Gmail", config.SourceGmail),
					huh.NewOption("IMAP server", config.SourceIMAP),
					huh.NewOption("mbox file", config.SourceMbox),
				).
				Value(&v.SourceType),
		),
		huh.NewGroup(
			huh.NewInput().Title("Tenant ID").Value(&v.TenantID).Validate(required("tenant ID")),
			huh.NewInput().Title("Client ID").Value(&v.ClientID).Validate(required("client ID")),
			huh.NewInput().
				Title("User ID").
				Description("Leave empty to read the signed-in user's mailbox.").
				Value(&v.UserID),
		).WithHideFunc(not(config.SourceGraph)),
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth client secrets file").
				Placeholder("~/Downloads/client_secret.json").
				Value(&v.ClientSecrets).
				Validate(required("client secrets file")),
			huh.NewInput().Title("Gmail address").Value(&v.GmailAccount).Validate(required("Gmail address")),
		).WithHideFunc(not(config.SourceGmail)),
		huh.NewGroup(
			huh.NewInput().Title("IMAP host").Value(&v.IMAPHost).Validate(required("host")),
			huh.NewInput().
				Title("Port").
				Placeholder("993").
				Value(&v.IMAPPort).
				Validate(func(s string) error {
					_, err := ParsePort(s)
					return err
				}),
			huh.NewInput().Title("Username").Value(&v.IMAPUsername).Validate(required("username")),
			huh.NewSelect[string]().
				Title("Security").
				Options(
					huh.NewOption("Implicit TLS", SecurityTLS),
					huh.NewOption("STARTTLS", SecuritySTARTTLS),
					huh.NewOption("None (plain text)", SecurityNone),
				).
				Value(&v.IMAPSecurity),
			huh.NewInput().Title("Mailbox").Placeholder("INBOX").Value(&v.IMAPMailbox),
		).WithHideFunc(not(config.SourceIMAP)),
		huh.NewGroup(
			huh.NewInput().Title("mbox file").Value(&v.MboxPath).Validate(required("mbox path")),
		).WithHideFunc(not(config.SourceMbox)),
		huh.NewGroup(
			huh.NewInput().
				Title("Sync schedule for 'mailtracker serve'").
				Description("Cron expression, e.g. */30 * * * *. Leave empty to disable.").
				Value(&v.Cron).
				Validate(validCron),
		),
	)
}

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted")

// PromptPassword asks for a secret without echoing it.
func PromptPassword(title string) (string, error) {
	var password string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Validate(required("password")).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", ErrAborted
	}
	if err != nil {
		return "", err
	}
	return password, nil
}

// Confirm asks a yes/no question.
func Confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}
