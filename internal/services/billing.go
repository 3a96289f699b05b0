package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Billing is the Rawls billing-project façade.
type Billing struct {
	c *client
}

// ListProjects lists the user's billing projects.
func (b *Billing) ListProjects(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, b.c, b.c.rawls, http.MethodGet, "user/billing", withAuth())
}

// ListAccounts lists the Google billing accounts the user can use.
func (b *Billing) ListAccounts(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, b.c, b.c.rawls, http.MethodGet, "user/billingAccounts", withAuth())
}

// CreateProject creates a billing project on billingAccount.
func (b *Billing) CreateProject(ctx context.Context, projectName, billingAccount string) error {
	return callNoContent(ctx, b.c, b.c.rawls, http.MethodPost, "billing", withAuth(), withJSON(map[string]string{
		"projectName":    projectName,
		"billingAccount": billingAccount,
	}))
}

// Project scopes operations to one billing project.
func (b *Billing) Project(name string) *BillingProject {
	return &BillingProject{roles: roleTarget{c: b.c, p: b.c.rawls, root: fmt.Sprintf("billing/%s", name)}}
}

// BillingProject is one billing project.
type BillingProject struct {
	roles roleTarget
}

// ListUsers lists project members and their roles.
func (p *BillingProject) ListUsers(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, p.roles.c, p.roles.p, http.MethodGet, p.roles.root+"/members", withAuth())
}

// AddUser grants every role to email.
func (p *BillingProject) AddUser(ctx context.Context, roles []string, email string) error {
	return p.roles.addAll(ctx, roles, email)
}

// RemoveUser revokes every role from email.
func (p *BillingProject) RemoveUser(ctx context.Context, roles []string, email string) error {
	return p.roles.removeAll(ctx, roles, email)
}

// ChangeUserRoles moves email from oldRoles to newRoles.
func (p *BillingProject) ChangeUserRoles(ctx context.Context, email string, oldRoles, newRoles []string) error {
	return p.roles.change(ctx, email, oldRoles, newRoles)
}
