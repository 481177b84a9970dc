package mailer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/International-Combat-Archery-Alliance/email/v2"
)

var (
	ErrUnknownMailer    = errors.New("mailer is not configured")
	ErrUnknownTransport = errors.New("transport is not registered")
)

// Factory builds the sender for one configured mailer.
type Factory func(cfg *Config, mc MailerConfig) (email.Sender, error)

var _ email.Sender = &Manager{}

// Manager resolves named mailers from Config, building each one through the
// factory registered for its transport.
type Manager struct {
	cfg    *Config
	logger *zap.Logger

	mu        sync.Mutex
	factories map[string]Factory
	mailers   map[string]*Mailer
	before    []BeforeSendFunc
	after     []AfterSendFunc
}

// NewManager returns a manager with the built-in "log" and "array"
// transports registered.
func NewManager(cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		factories: make(map[string]Factory),
		mailers:   make(map[string]*Mailer),
	}

	m.Extend("log", func(_ *Config, _ MailerConfig) (email.Sender, error) {
		return NewLogTransport(m.logger), nil
	})
	m.Extend("array", func(_ *Config, _ MailerConfig) (email.Sender, error) {
		return NewArrayTransport(), nil
	})

	return m
}

// Config returns the configuration the manager resolves mailers from.
func (m *Manager) Config() *Config {
	return m.cfg
}

// Extend registers a factory for a transport name. Registering the same name
// again replaces the factory; mailers already built are kept.
func (m *Manager) Extend(transport string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[strings.ToLower(transport)] = factory
}

// Transports lists the registered transport names.
func (m *Manager) Transports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BeforeSend adds a hook run before every send through a mailer of this
// manager. A hook error aborts the send.
func (m *Manager) BeforeSend(fn BeforeSendFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before = append(m.before, fn)
}

// AfterSend adds a hook run after every send attempt.
func (m *Manager) AfterSend(fn AfterSendFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.after = append(m.after, fn)
}

// Mailer returns the named mailer, building it on first use. A blank name
// selects the configured default. Names match case-insensitively when there
// is no exact match, since viper lowercases configuration keys.
func (m *Manager) Mailer(name string) (*Mailer, error) {
	if name == "" {
		name = m.cfg.Default
	}
	if name == "" {
		name = defaultMailerName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name, mc, ok := m.lookupMailer(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMailer, name)
	}

	if mailer, ok := m.mailers[name]; ok {
		return mailer, nil
	}

	sender, err := m.createTransport(mc)
	if err != nil {
		return nil, fmt.Errorf("create mailer %s: %w", name, err)
	}

	from := mc.From
	if from == "" {
		from = m.cfg.From
	}

	mailer := &Mailer{
		name:    name,
		sender:  sender,
		from:    from,
		manager: m,
	}
	m.mailers[name] = mailer

	m.logger.Debug("mailer resolved",
		zap.String("mailer", name),
		zap.String("transport", mc.Transport),
	)

	return mailer, nil
}

// lookupMailer returns the configured key for name along with its config.
func (m *Manager) lookupMailer(name string) (string, MailerConfig, bool) {
	if mc, ok := m.cfg.Mailers[name]; ok {
		return name, mc, true
	}
	for key, mc := range m.cfg.Mailers {
		if strings.EqualFold(key, name) {
			return key, mc, true
		}
	}
	return name, MailerConfig{}, false
}

// CreateTransport builds a sender for mc without caching it.
func (m *Manager) CreateTransport(mc MailerConfig) (email.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransport(mc)
}

func (m *Manager) createTransport(mc MailerConfig) (email.Sender, error) {
	transport := strings.ToLower(mc.Transport)
	factory, ok := m.factories[transport]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, mc.Transport)
	}
	return factory(m.cfg, mc)
}

// SendEmail sends through the default mailer.
func (m *Manager) SendEmail(ctx context.Context, e email.Email) error {
	mailer, err := m.Mailer("")
	if err != nil {
		return err
	}
	return mailer.SendEmail(ctx, e)
}

func (m *Manager) hooks() ([]BeforeSendFunc, []AfterSendFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BeforeSendFunc(nil), m.before...), append([]AfterSendFunc(nil), m.after...)
}
