package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GoogleBilling is the Cloud Billing API façade.
type GoogleBilling struct {
	c *client
}

// ListProjectNames returns the IDs of projects billed to billingAccountName
// (billingAccounts/<id>).
func (g *GoogleBilling) ListProjectNames(ctx context.Context, billingAccountName string) ([]string, error) {
	res, err := callJSON[struct {
		ProjectBillingInfo []struct {
			ProjectID string `json:"projectId"`
		} `json:"projectBillingInfo"`
	}](ctx, g.c, g.c.googleBilling, http.MethodGet, billingAccountName+"/projects", withAuth())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.ProjectBillingInfo))
	for _, p := range res.ProjectBillingInfo {
		ids = append(ids, p.ProjectID)
	}
	return ids, nil
}

// GetBillingInfo returns a project's billing info.
func (g *GoogleBilling) GetBillingInfo(ctx context.Context, project string) (json.RawMessage, error) {
	return callRaw(ctx, g.c, g.c.googleBilling, http.MethodGet, fmt.Sprintf("projects/%s/billingInfo", project), withAuth())
}

// ChangeBillingAccount moves projectID onto newAccountName.
func (g *GoogleBilling) ChangeBillingAccount(ctx context.Context, projectID, newAccountName string) (json.RawMessage, error) {
	name := fmt.Sprintf("projects/%s/billingInfo", projectID)
	return callRaw(ctx, g.c, g.c.googleBilling, http.MethodPut, name, withAuth(), withJSON(map[string]any{
		"billingEnabled":     true,
		"billingAccountName": newAccountName,
		"name":               name,
		"projectId":          projectID,
	}))
}
