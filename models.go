package authstate

// Namespace identifies a logical auth collection, independent of what a
// particular backend names its table, kind or collection.
type Namespace string

const (
	NamespaceUser         Namespace = "user"
	NamespaceSession      Namespace = "session"
	NamespaceAccount      Namespace = "account"
	NamespacePasskey      Namespace = "passkey"
	NamespaceAPIKey       Namespace = "apikey"
	NamespaceOrganization Namespace = "organization"
	NamespaceMember       Namespace = "member"
	NamespaceInvitation   Namespace = "invitation"
)

// ModelNames overrides the backend collection name for specific namespaces.
type ModelNames map[Namespace]string

// ModelConfig is the shared naming configuration passed to backend adapters.
type ModelConfig struct {
	Names     ModelNames
	UsePlural bool
}

// ModelName resolves a namespace to the backend collection name: an explicit
// override wins, otherwise the namespace itself, pluralized when configured.
func (c ModelConfig) ModelName(ns Namespace) string {
	if name, ok := c.Names[ns]; ok && name != "" {
		return name
	}
	if c.UsePlural {
		return string(ns) + "s"
	}
	return string(ns)
}
