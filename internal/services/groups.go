package services

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

// Groups is the Sam managed-group façade.
type Groups struct {
	c *client
}

// List returns the groups the user belongs to.
func (g *Groups) List(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, g.c, g.c.sam, http.MethodGet, "api/groups/v1", withAuth())
}

// Group scopes operations to one group.
func (g *Groups) Group(name string) *Group {
	return &Group{roles: roleTarget{c: g.c, p: g.c.sam, root: "api/groups/v1/" + name}}
}

// Group is one managed group.
type Group struct {
	roles roleTarget
}

// Create creates the group.
func (g *Group) Create(ctx context.Context) error {
	return callNoContent(ctx, g.roles.c, g.roles.p, http.MethodPost, g.roles.root, withAuth())
}

// Delete deletes the group.
func (g *Group) Delete(ctx context.Context) error {
	return callNoContent(ctx, g.roles.c, g.roles.p, http.MethodDelete, g.roles.root, withAuth())
}

// ListAdmins lists admin emails.
func (g *Group) ListAdmins(ctx context.Context) ([]string, error) {
	return callJSON[[]string](ctx, g.roles.c, g.roles.p, http.MethodGet, g.roles.root+"/admin", withAuth())
}

// ListMembers lists member emails.
func (g *Group) ListMembers(ctx context.Context) ([]string, error) {
	return callJSON[[]string](ctx, g.roles.c, g.roles.p, http.MethodGet, g.roles.root+"/member", withAuth())
}

// AddUser grants every role to email.
func (g *Group) AddUser(ctx context.Context, roles []string, email string) error {
	return g.roles.addAll(ctx, roles, email)
}

// RemoveUser revokes every role from email.
func (g *Group) RemoveUser(ctx context.Context, roles []string, email string) error {
	return g.roles.removeAll(ctx, roles, email)
}

// ChangeUserRoles moves email from oldRoles to newRoles.
func (g *Group) ChangeUserRoles(ctx context.Context, email string, oldRoles, newRoles []string) error {
	return g.roles.change(ctx, email, oldRoles, newRoles)
}

// RequestAccess asks the group admins for membership.
func (g *Group) RequestAccess(ctx context.Context) error {
	return callNoContent(ctx, g.roles.c, g.roles.p, http.MethodPost, g.roles.root+"/requestAccess", withAuth())
}

// roleTarget manages role memberships under root/<role>/<email>, shared by Sam groups and
// Rawls billing projects.
type roleTarget struct {
	c    *client
	p    *ajax.Pipeline
	root string
}

func (r roleTarget) each(ctx context.Context, method string, roles []string, email string) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		eg.Go(func() error {
			return callNoContent(ctx, r.c, r.p, method, r.root+"/"+role+"/"+email, withAuth())
		})
	}
	return eg.Wait()
}

func (r roleTarget) addAll(ctx context.Context, roles []string, email string) error {
	return r.each(ctx, http.MethodPut, roles, email)
}

func (r roleTarget) removeAll(ctx context.Context, roles []string, email string) error {
	return r.each(ctx, http.MethodDelete, roles, email)
}

// change adds the new roles first, then removes the dropped ones. Equal role lists are a no-op.
func (r roleTarget) change(ctx context.Context, email string, oldRoles, newRoles []string) error {
	if slices.Equal(oldRoles, newRoles) {
		return nil
	}
	if err := r.addAll(ctx, difference(newRoles, oldRoles), email); err != nil {
		return err
	}
	return r.removeAll(ctx, difference(oldRoles, newRoles), email)
}

// difference returns the elements of a not present in b, in a's order.
func difference(a, b []string) []string {
	var out []string
	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
