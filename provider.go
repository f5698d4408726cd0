package authstate

import (
	"context"
	"log/slog"

	"github.com/panyam/authstate/cache"
)

// ToastVariant classifies a toast notification.
type ToastVariant string

const (
	ToastError   ToastVariant = "error"
	ToastSuccess ToastVariant = "success"
)

// Toast is a user-facing notification emitted by the data layer, typically on
// fetch failures.
type Toast struct {
	Variant ToastVariant
	Message string
}

// NotifyFunc delivers a toast to the UI. Implementations must not block.
type NotifyFunc func(t Toast)

// Provider is the application-owned context wiring the data layer together.
// Construct one at startup, call EnsureDefaults, and hand it to UI code. The
// cache store is owned here rather than being an ambient global so that all
// consumers share one store with an explicit lifecycle.
type Provider struct {
	Store        *cache.Store
	Hooks        AuthHooks
	Mutators     Mutators
	Localization Localization
	Notify       NotifyFunc
	Logger       *slog.Logger

	// OnSessionChange is invoked after sign-in, sign-out or session switch so
	// the active adapter can refresh session state and drop dependent caches.
	OnSessionChange func(ctx context.Context) error
}

// EnsureDefaults fills in safe defaults for any unset fields.
func (p *Provider) EnsureDefaults() *Provider {
	if p.Store == nil {
		p.Store = cache.NewStore()
	}
	if p.Localization == nil {
		p.Localization = DefaultLocalization
	}
	if p.Notify == nil {
		p.Notify = func(Toast) {}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// NotifyError localizes err and emits it as an error toast. A nil err is a
// no-op.
func (p *Provider) NotifyError(err error) {
	if err == nil || p.Notify == nil {
		return
	}
	p.Notify(Toast{Variant: ToastError, Message: LocalizedError(err, p.Localization)})
}
