package sendgrid

import (
	"github.com/International-Combat-Archery-Alliance/email/v2"
	"github.com/International-Combat-Archery-Alliance/email/v2/mailer"
)

const (
	TransportName = "sendgrid"
	serviceName   = "sendgrid"
)

// Register adds the "sendgrid" transport to m. Mailers using it read their
// credentials from services.sendgrid and merge their options into every
// payload. opts are applied to each sender the factory builds.
func Register(m *mailer.Manager, opts ...Option) {
	m.Extend(TransportName, func(cfg *mailer.Config, mc mailer.MailerConfig) (email.Sender, error) {
		var sgCfg Config
		if err := cfg.DecodeService(serviceName, &sgCfg); err != nil {
			return nil, err
		}
		sgCfg.Options = mc.Options

		return NewSender(sgCfg, opts...)
	})
}
