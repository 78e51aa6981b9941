// Package builtin provides the stock notifier and action callbacks every
// deployment gets: console/telegram notifiers, the protocol-post actions
// (lights control and friends) and the speedtest connectivity check.
//
// Registration is explicit. The app calls Register once during construction
// with whatever collaborators are actually wired; callbacks whose
// collaborator is absent degrade to a logged no-op instead of failing.
package builtin

import (
	"strings"

	"schedd/internal/notify"
	"schedd/internal/sched"
	"schedd/internal/storage"
	"schedd/pkg/logx"
	"schedd/pkg/webhook"
)

// DefaultProtocolURL is where protocol_run and the lights actions post when
// no endpoint is configured. The protocol service historically runs next to
// the scheduler on the same host.
const DefaultProtocolURL = "http://127.0.0.1:8000/protocols/run"

// SettingsKeySpeedtest is the settings key holding the last speedtest
// result as JSON.
const SettingsKeySpeedtest = "speedtest.last"

// Deps carries the collaborators the builtin callbacks close over.
type Deps struct {
	Log logx.Logger

	// Notify backs the "telegram" notifier. Nil drops those notifications
	// with a warning.
	Notify *notify.Service

	// Store persists the last speedtest result. Nil skips persistence.
	Store storage.Store

	// Hook posts protocol invocations. Nil constructs a default client.
	Hook *webhook.Client

	// ProtocolURL overrides DefaultProtocolURL.
	ProtocolURL string
}

func (d Deps) withDefaults() Deps {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Hook == nil {
		d.Hook = webhook.New()
	}
	if strings.TrimSpace(d.ProtocolURL) == "" {
		d.ProtocolURL = DefaultProtocolURL
	}
	return d
}

// Register installs every builtin notifier and action into reg.
func Register(reg *sched.Registry, deps Deps) {
	if reg == nil {
		return
	}
	deps = deps.withDefaults()
	log := deps.Log.With(logx.String("comp", "builtin"))

	registerNotifiers(reg, deps, log)
	registerActions(reg, deps, log)
}
