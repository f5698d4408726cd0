// Package gormq adapts a GORM database handle into the AuthHooks contract.
// It is the managed-query adapter: every hook is a tagged query over the
// shared cache store, and mutations invalidate the tags they affect. The
// session is identified by a bearer token the host application supplies,
// typically read from its own cookie or header handling.
package gormq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// Stable query tags. Everything the adapter caches lives under the auth-
// prefix so session changes can sweep the whole family.
const (
	TagPrefix = "auth-"

	TagSession            = "auth-session"
	TagAccounts           = "auth-accounts"
	TagSessions           = "auth-sessions"
	TagPasskeys           = "auth-passkeys"
	TagAPIKeys            = "auth-api-keys"
	TagDeviceSessions     = "auth-device-sessions"
	TagActiveOrganization = "auth-active-organization"
	TagOrganizations      = "auth-organizations"
	TagPermission         = "auth-permission"
	TagInvitation         = "auth-invitation"
)

// DefaultRolePermissions grants owners and admins everything and members
// nothing. A "*" resource key means all resources; a "*" action means all
// actions on that resource.
var DefaultRolePermissions = map[string]map[string][]string{
	"owner": {"*": nil},
	"admin": {"*": nil},
}

// Options configures the managed-query adapter.
type Options struct {
	DB    *gorm.DB     // required
	Store *cache.Store // required; the shared cache store

	// SessionToken is the initial bearer token identifying the current
	// session. Switch it later with UseSessionToken.
	SessionToken string

	// Models maps namespaces to table names.
	Models authstate.ModelConfig

	// StaleTime applies to every hook except Session; SessionStaleTime to
	// the session hook. Zero means the orchestrator default.
	StaleTime        time.Duration
	SessionStaleTime time.Duration

	// RolePermissions drives HasPermission. Nil means
	// DefaultRolePermissions.
	RolePermissions map[string]map[string][]string

	Localization authstate.Localization
	Notify       authstate.NotifyFunc
	Logger       *slog.Logger
}

// Hooks is the managed-query implementation of the AuthHooks contract plus
// all optional capabilities.
type Hooks struct {
	opts    Options
	session *authstate.SessionLoader

	accounts       *authstate.Loader[[]authstate.Account]
	sessions       *authstate.Loader[[]authstate.Session]
	passkeys       *authstate.Loader[[]authstate.Passkey]
	apiKeys        *authstate.Loader[[]authstate.APIKey]
	deviceSessions *authstate.Loader[[]authstate.SessionData]
	activeOrg      *authstate.Loader[authstate.Organization]
	organizations  *authstate.Loader[[]authstate.Organization]

	mu          sync.Mutex
	token       string
	permissions map[string]*authstate.Loader[authstate.PermissionResult]
	invitations map[string]*authstate.Loader[authstate.Invitation]
}

var (
	_ authstate.AuthHooks          = (*Hooks)(nil)
	_ authstate.PasskeyHooks       = (*Hooks)(nil)
	_ authstate.APIKeyHooks        = (*Hooks)(nil)
	_ authstate.DeviceSessionHooks = (*Hooks)(nil)
	_ authstate.OrganizationHooks  = (*Hooks)(nil)
	_ authstate.SessionSource      = (*Hooks)(nil)
)

// NewHooks creates the managed-query adapter. DB and Store are required.
func NewHooks(opts Options) *Hooks {
	if opts.DB == nil || opts.Store == nil {
		panic("gormq: Options requires DB and Store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hooks{
		opts:        opts,
		token:       opts.SessionToken,
		permissions: make(map[string]*authstate.Loader[authstate.PermissionResult]),
		invitations: make(map[string]*authstate.Loader[authstate.Invitation]),
	}
	h.session = authstate.NewSessionLoader(opts.Store, TagSession, h.fetchSession, opts.SessionStaleTime, opts.Logger)

	h.accounts = newTagLoader(h, TagAccounts, sliceFetch(h.fetchAccounts))
	h.sessions = newTagLoader(h, TagSessions, sliceFetch(h.fetchSessions))
	h.passkeys = newTagLoader(h, TagPasskeys, sliceFetch(h.fetchPasskeys))
	h.apiKeys = newTagLoader(h, TagAPIKeys, sliceFetch(h.fetchAPIKeys))
	h.deviceSessions = newTagLoader(h, TagDeviceSessions, sliceFetch(h.fetchDeviceSessions))
	h.activeOrg = newTagLoader(h, TagActiveOrganization, h.fetchActiveOrganization)
	h.organizations = newTagLoader(h, TagOrganizations, sliceFetch(h.fetchOrganizations))
	return h
}

// UseSessionToken switches the token identifying the current session. Call
// OnSessionChange afterwards so cached queries resolve against the new
// identity.
func (h *Hooks) UseSessionToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// CurrentToken returns the bearer token queries resolve against.
func (h *Hooks) CurrentToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// SessionState implements authstate.SessionSource.
func (h *Hooks) SessionState(ctx context.Context) (*authstate.SessionData, bool) {
	hook := h.session.Snapshot(ctx)
	return hook.Data, hook.Pending
}

// OnSessionChange refetches the session tag synchronously, then invalidates
// every other auth- tag so dependent queries resolve fresh on next read.
func (h *Hooks) OnSessionChange(ctx context.Context) error {
	h.session.Invalidate()
	err := h.session.Refetch(ctx)
	for _, key := range h.opts.Store.Keys() {
		if strings.HasPrefix(key, TagPrefix) && key != TagSession {
			h.opts.Store.Clear(key)
		}
	}
	return err
}

// Session implements authstate.AuthHooks.
func (h *Hooks) Session(ctx context.Context) authstate.AuthHook[authstate.SessionData] {
	return h.session.Snapshot(ctx)
}

// ListAccounts implements authstate.AuthHooks.
func (h *Hooks) ListAccounts(ctx context.Context) authstate.AuthHook[[]authstate.Account] {
	return h.accounts.Snapshot(ctx)
}

// ListSessions implements authstate.AuthHooks.
func (h *Hooks) ListSessions(ctx context.Context) authstate.AuthHook[[]authstate.Session] {
	return h.sessions.Snapshot(ctx)
}

// ListPasskeys implements authstate.PasskeyHooks.
func (h *Hooks) ListPasskeys(ctx context.Context) authstate.AuthHook[[]authstate.Passkey] {
	return h.passkeys.Snapshot(ctx)
}

// ListAPIKeys implements authstate.APIKeyHooks.
func (h *Hooks) ListAPIKeys(ctx context.Context) authstate.AuthHook[[]authstate.APIKey] {
	return h.apiKeys.Snapshot(ctx)
}

// ListDeviceSessions implements authstate.DeviceSessionHooks.
func (h *Hooks) ListDeviceSessions(ctx context.Context) authstate.AuthHook[[]authstate.SessionData] {
	return h.deviceSessions.Snapshot(ctx)
}

// ActiveOrganization implements authstate.OrganizationHooks.
func (h *Hooks) ActiveOrganization(ctx context.Context) authstate.AuthHook[authstate.Organization] {
	return h.activeOrg.Snapshot(ctx)
}

// ListOrganizations implements authstate.OrganizationHooks.
func (h *Hooks) ListOrganizations(ctx context.Context) authstate.AuthHook[[]authstate.Organization] {
	return h.organizations.Snapshot(ctx)
}

// HasPermission implements authstate.OrganizationHooks. Each distinct check
// gets its own tag under the auth- prefix.
func (h *Hooks) HasPermission(ctx context.Context, check authstate.PermissionCheck) authstate.AuthHook[authstate.PermissionResult] {
	key := permissionKey(check)

	h.mu.Lock()
	loader, ok := h.permissions[key]
	if !ok {
		loader = newTagLoader(h, key, func(ctx context.Context) (*authstate.PermissionResult, error) {
			return h.fetchPermission(ctx, check)
		})
		h.permissions[key] = loader
	}
	h.mu.Unlock()

	return loader.Snapshot(ctx)
}

// Invitation implements authstate.OrganizationHooks.
func (h *Hooks) Invitation(ctx context.Context, invitationID string) authstate.AuthHook[authstate.Invitation] {
	key := TagInvitation + ":" + invitationID

	h.mu.Lock()
	loader, ok := h.invitations[key]
	if !ok {
		loader = newTagLoader(h, key, func(ctx context.Context) (*authstate.Invitation, error) {
			return h.fetchInvitation(ctx, invitationID)
		})
		h.invitations[key] = loader
	}
	h.mu.Unlock()

	return loader.Snapshot(ctx)
}

// ---------------------------------------------------------------------------
// Query implementations
// ---------------------------------------------------------------------------

func (h *Hooks) q(ctx context.Context, ns authstate.Namespace) *gorm.DB {
	return h.opts.DB.WithContext(ctx).Table(h.opts.Models.ModelName(ns))
}

func (h *Hooks) fetchSession(ctx context.Context) (*authstate.SessionData, error) {
	token := h.CurrentToken()
	if token == "" {
		return nil, nil
	}

	var sess SessionModel
	err := h.q(ctx, authstate.NamespaceSession).Where("token = ?", token).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}

	var user UserModel
	err = h.q(ctx, authstate.NamespaceUser).Where("id = ?", sess.UserID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session user lookup: %w", err)
	}

	return &authstate.SessionData{User: user.ToUser(), Session: sess.ToSession()}, nil
}

// currentUserID resolves the user the token maps to. Dependent queries only
// run while a session is present, so a miss here is an auth failure.
func (h *Hooks) currentUserID(ctx context.Context) (string, error) {
	data, err := h.fetchSession(ctx)
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", authstate.ErrUnauthenticated
	}
	return data.User.ID, nil
}

func (h *Hooks) fetchAccounts(ctx context.Context) ([]authstate.Account, error) {
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var rows []AccountModel
	if err := h.q(ctx, authstate.NamespaceAccount).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]authstate.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].ToAccount())
	}
	return accounts, nil
}

func (h *Hooks) fetchSessions(ctx context.Context) ([]authstate.Session, error) {
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var rows []SessionModel
	err = h.q(ctx, authstate.NamespaceSession).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]authstate.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].ToSession())
	}
	return sessions, nil
}

func (h *Hooks) fetchPasskeys(ctx context.Context) ([]authstate.Passkey, error) {
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var rows []PasskeyModel
	if err := h.q(ctx, authstate.NamespacePasskey).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	passkeys := make([]authstate.Passkey, 0, len(rows))
	for i := range rows {
		passkeys = append(passkeys, rows[i].ToPasskey())
	}
	return passkeys, nil
}

func (h *Hooks) fetchAPIKeys(ctx context.Context) ([]authstate.APIKey, error) {
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var rows []APIKeyModel
	if err := h.q(ctx, authstate.NamespaceAPIKey).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]authstate.APIKey, 0, len(rows))
	for i := range rows {
		keys = append(keys, rows[i].ToAPIKey())
	}
	return keys, nil
}

// fetchDeviceSessions pairs each of the user's live sessions with the user
// record, mirroring the session/user shape the session hook produces.
func (h *Hooks) fetchDeviceSessions(ctx context.Context) ([]authstate.SessionData, error) {
	data, err := h.fetchSession(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, authstate.ErrUnauthenticated
	}
	sessions, err := h.fetchSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]authstate.SessionData, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, authstate.SessionData{User: data.User, Session: sess})
	}
	return out, nil
}

func (h *Hooks) fetchActiveOrganization(ctx context.Context) (*authstate.Organization, error) {
	data, err := h.fetchSession(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil || data.Session.ActiveOrganizationID == "" {
		return nil, nil
	}
	return h.fetchOrganization(ctx, data.Session.ActiveOrganizationID)
}

// fetchOrganization loads an organization with its members and pending
// invitations, the full shape settings screens need.
func (h *Hooks) fetchOrganization(ctx context.Context, orgID string) (*authstate.Organization, error) {
	var model OrganizationModel
	err := h.q(ctx, authstate.NamespaceOrganization).Where("id = ?", orgID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("organization lookup: %w", err)
	}
	org := model.ToOrganization()

	var members []MemberModel
	if err := h.q(ctx, authstate.NamespaceMember).Where("organization_id = ?", orgID).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("organization members: %w", err)
	}
	for i := range members {
		org.Members = append(org.Members, members[i].ToMember())
	}

	var invitations []InvitationModel
	err = h.q(ctx, authstate.NamespaceInvitation).
		Where("organization_id = ? AND status = ?", orgID, "pending").
		Find(&invitations).Error
	if err != nil {
		return nil, fmt.Errorf("organization invitations: %w", err)
	}
	for i := range invitations {
		org.Invitations = append(org.Invitations, invitations[i].ToInvitation())
	}

	return &org, nil
}

func (h *Hooks) fetchOrganizations(ctx context.Context) ([]authstate.Organization, error) {
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	var memberships []MemberModel
	if err := h.q(ctx, authstate.NamespaceMember).Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(memberships) == 0 {
		return []authstate.Organization{}, nil
	}
	orgIDs := make([]string, 0, len(memberships))
	for i := range memberships {
		orgIDs = append(orgIDs, memberships[i].OrganizationID)
	}
	var rows []OrganizationModel
	if err := h.q(ctx, authstate.NamespaceOrganization).Where("id IN ?", orgIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	orgs := make([]authstate.Organization, 0, len(rows))
	for i := range rows {
		orgs = append(orgs, rows[i].ToOrganization())
	}
	return orgs, nil
}

func (h *Hooks) fetchPermission(ctx context.Context, check authstate.PermissionCheck) (*authstate.PermissionResult, error) {
	data, err := h.fetchSession(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, authstate.ErrUnauthenticated
	}

	orgID := check.OrganizationID
	if orgID == "" {
		orgID = data.Session.ActiveOrganizationID
	}
	if orgID == "" {
		return &authstate.PermissionResult{Success: false}, nil
	}

	var member MemberModel
	err = h.q(ctx, authstate.NamespaceMember).
		Where("organization_id = ? AND user_id = ?", orgID, data.User.ID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &authstate.PermissionResult{Success: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}

	return &authstate.PermissionResult{Success: h.roleAllows(member.Role, check.Permissions)}, nil
}

func (h *Hooks) fetchInvitation(ctx context.Context, invitationID string) (*authstate.Invitation, error) {
	var model InvitationModel
	err := h.q(ctx, authstate.NamespaceInvitation).Where("id = ?", invitationID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, authstate.NewError("INVITATION_NOT_FOUND", "Invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("invitation lookup: %w", err)
	}
	inv := model.ToInvitation()

	var org OrganizationModel
	err = h.q(ctx, authstate.NamespaceOrganization).Where("id = ?", model.OrganizationID).First(&org).Error
	if err == nil {
		inv.OrganizationName = org.Name
		inv.OrganizationSlug = org.Slug
		inv.OrganizationLogo = org.Logo
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("invitation organization: %w", err)
	}

	return &inv, nil
}

// roleAllows checks the requested permissions against the role's grants.
func (h *Hooks) roleAllows(role string, required map[string][]string) bool {
	perms := h.opts.RolePermissions
	if perms == nil {
		perms = DefaultRolePermissions
	}
	allowed, ok := perms[role]
	if !ok {
		return false
	}
	if _, all := allowed["*"]; all {
		return true
	}
	for resource, actions := range required {
		have := allowed[resource]
		for _, action := range actions {
			if !slices.Contains(have, action) && !slices.Contains(have, "*") {
				return false
			}
		}
	}
	return true
}

// newTagLoader builds a loader for a pointer-returning fetch keyed by tag.
func newTagLoader[T any](h *Hooks, tag string, fetch authstate.FetchFunc[T]) *authstate.Loader[T] {
	return authstate.NewLoader(authstate.LoaderOptions[T]{
		Store:        h.opts.Store,
		Fetch:        fetch,
		Key:          tag,
		StaleTime:    h.opts.StaleTime,
		Session:      h,
		Localization: h.opts.Localization,
		Notify:       h.opts.Notify,
		Logger:       h.opts.Logger,
	})
}

// sliceFetch lifts a slice-returning query into the loader's fetch shape so
// empty result sets still settle the hook.
func sliceFetch[T any](fn func(ctx context.Context) ([]T, error)) authstate.FetchFunc[[]T] {
	return func(ctx context.Context) (*[]T, error) {
		items, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return &items, nil
	}
}

// permissionKey derives a stable tag from a permission check.
func permissionKey(check authstate.PermissionCheck) string {
	parts := make([]string, 0, len(check.Permissions))
	for resource, actions := range check.Permissions {
		parts = append(parts, resource+"="+strings.Join(actions, "|"))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s:%s:%s", TagPermission, check.OrganizationID, strings.Join(parts, ","))
}
