package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

// Terms of service identity sent with every TOS call.
const (
	tosAppID   = "Saturn"
	tosVersion = 4
)

// User is the façade for the signed-in user's registration, profile and linked accounts.
type User struct {
	c *client
}

// Profile groups the profile operations.
func (u *User) Profile() *Profile {
	return &Profile{c: u.c}
}

// GetStatus returns the user's Sam registration info.
func (u *User) GetStatus(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.sam, http.MethodGet, "register/user/v2/self/info", withAuth())
}

// AcceptEula accepts the free-trial user agreement.
func (u *User) AcceptEula(ctx context.Context) error {
	return callNoContent(ctx, u.c, u.c.orchestration, http.MethodPut, "api/profile/trial/userAgreement", withAuth())
}

// StartTrial enrolls the user in the free trial.
func (u *User) StartTrial(ctx context.Context) error {
	return callNoContent(ctx, u.c, u.c.orchestration, http.MethodPost, "api/profile/trial", withAuth())
}

// FinalizeTrial closes out an expired trial.
func (u *User) FinalizeTrial(ctx context.Context) error {
	return callNoContent(ctx, u.c, u.c.orchestration, http.MethodPost, "api/profile/trial?operation=finalize", withAuth())
}

// GetProxyGroup returns the proxy group address for email.
func (u *User) GetProxyGroup(ctx context.Context, email string) (string, error) {
	return callJSON[string](ctx, u.c, u.c.orchestration, http.MethodGet, "api/proxyGroup/"+email, withAuth())
}

// GetTosAccepted reports whether the current terms of service were accepted. A 403 or 404
// means the user has never responded.
func (u *User) GetTosAccepted(ctx context.Context) (bool, error) {
	path := withQuery("user/response", url.Values{
		"appid":      {tosAppID},
		"tosversion": {strconv.Itoa(tosVersion)},
	})
	res, err := callJSON[struct {
		Accepted bool `json:"accepted"`
	}](ctx, u.c, u.c.tos, http.MethodGet, path, withAuth())
	if ajax.IsStatus(err, http.StatusForbidden, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Accepted, nil
}

// AcceptTos records acceptance of the current terms of service.
func (u *User) AcceptTos(ctx context.Context) error {
	return callNoContent(ctx, u.c, u.c.tos, http.MethodPost, "user/response", withAuth(), withJSON(map[string]any{
		"appid":      tosAppID,
		"tosversion": tosVersion,
		"accepted":   true,
	}))
}

// FirstTimestamp records and returns the user's first visit.
func (u *User) FirstTimestamp(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.rex, http.MethodPost, "firstTimestamps/record", withAuth())
}

// LastNpsResponse returns when the user last answered the NPS survey.
func (u *User) LastNpsResponse(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.rex, http.MethodGet, "npsResponses/lastTimestamp", withAuth())
}

// PostNpsResponse submits an NPS survey answer.
func (u *User) PostNpsResponse(ctx context.Context, body any) error {
	return callNoContent(ctx, u.c, u.c.rex, http.MethodPost, "npsResponses/create", withAuth(), withJSON(body))
}

// GetNihStatus returns the user's NIH link status.
func (u *User) GetNihStatus(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.orchestration, http.MethodGet, "api/nih/status", withAuth())
}

// LinkNihAccount links an NIH account from its JWT.
func (u *User) LinkNihAccount(ctx context.Context, jwt string) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.orchestration, http.MethodPost, "api/nih/callback", withAuth(), withJSON(map[string]string{"jwt": jwt}))
}

// GetFenceStatus returns the link status for a fence provider.
func (u *User) GetFenceStatus(ctx context.Context, provider string) (json.RawMessage, error) {
	return callRaw(ctx, u.c, u.c.bond, http.MethodGet, "api/link/v1/"+provider, withAuth())
}

// GetFenceAuthURL returns the provider's OAuth authorization URL. The call is unauthenticated.
func (u *User) GetFenceAuthURL(ctx context.Context, provider, redirectURI string) (json.RawMessage, error) {
	state, err := json.Marshal(map[string]string{"provider": provider})
	if err != nil {
		return nil, fmt.Errorf("encode fence state: %w", err)
	}
	path := withQuery("api/link/v1/"+provider+"/authorization-url", url.Values{
		"scopes":       {"openid", "google_credentials"},
		"redirect_uri": {redirectURI},
		"state":        {base64.StdEncoding.EncodeToString(state)},
	})
	return callRaw(ctx, u.c, u.c.bond, http.MethodGet, path)
}

// LinkFenceAccount exchanges an OAuth code for a fence link.
func (u *User) LinkFenceAccount(ctx context.Context, provider, authCode, redirectURI string) (json.RawMessage, error) {
	path := withQuery("api/link/v1/"+provider+"/oauthcode", url.Values{
		"oauthcode":    {authCode},
		"redirect_uri": {redirectURI},
	})
	return callRaw(ctx, u.c, u.c.bond, http.MethodPost, path, withAuth())
}

// IsUserRegistered reports whether email has a Sam account.
func (u *User) IsUserRegistered(ctx context.Context, email string) (bool, error) {
	err := callNoContent(ctx, u.c, u.c.sam, http.MethodGet, "api/users/v1/"+email, withAuth())
	if ajax.IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InviteUser invites email to register.
func (u *User) InviteUser(ctx context.Context, email string) error {
	return callNoContent(ctx, u.c, u.c.sam, http.MethodPost, "api/users/v1/invite/"+email, withAuth())
}

// Profile is the user-profile sub-façade.
type Profile struct {
	c *client
}

// blankProfile fills required profile keys the caller leaves out.
var blankProfile = map[string]string{
	"firstName":              "N/A",
	"lastName":               "N/A",
	"title":                  "N/A",
	"institute":              "N/A",
	"institutionalProgram":   "N/A",
	"programLocationCity":    "N/A",
	"programLocationState":   "N/A",
	"programLocationCountry": "N/A",
	"pi":                     "N/A",
	"nonProfitStatus":        "N/A",
}

// Get returns the profile.
func (p *Profile) Get(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, p.c, p.c.orchestration, http.MethodGet, "register/profile", withAuth())
}

// Set writes the profile. Orchestration is called instead of Sam because it owns the
// free-credit logic.
func (p *Profile) Set(ctx context.Context, values map[string]string) error {
	merged := make(map[string]string, len(blankProfile)+len(values))
	for k, v := range blankProfile {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return callNoContent(ctx, p.c, p.c.orchestration, http.MethodPost, "register/profile", withAuth(), withJSON(merged))
}

// SetPreferences updates profile preferences.
func (p *Profile) SetPreferences(ctx context.Context, body any) error {
	return callNoContent(ctx, p.c, p.c.orchestration, http.MethodPost, "api/profile/preferences", withAuth(), withJSON(body))
}

// PreferLegacyFirecloud opts the user back into the legacy UI.
func (p *Profile) PreferLegacyFirecloud(ctx context.Context) error {
	return callNoContent(ctx, p.c, p.c.orchestration, http.MethodDelete, "api/profile/terra", withAuth())
}
