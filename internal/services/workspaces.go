package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/JakeFAU/workspace-portal/internal/session"
)

// AttributeOp is one Rawls attribute update operation.
type AttributeOp struct {
	Op                 string `json:"op"`
	AttributeName      string `json:"attributeName,omitempty"`
	AttributeListName  string `json:"attributeListName,omitempty"`
	NewMember          any    `json:"newMember,omitempty"`
	AddUpdateAttribute any    `json:"addUpdateAttribute,omitempty"`
}

// AttributesUpdateOps converts attributes to update ops. A list value replaces the whole list:
// it is removed and each element re-added. Scalars are upserted. Keys are emitted in sorted
// order so the payload is deterministic.
func AttributesUpdateOps(attrs map[string]any) []AttributeOp {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]AttributeOp, 0, len(attrs))
	for _, k := range keys {
		list, ok := attrs[k].([]any)
		if !ok {
			ops = append(ops, AttributeOp{Op: "AddUpdateAttribute", AttributeName: k, AddUpdateAttribute: attrs[k]})
			continue
		}
		ops = append(ops, AttributeOp{Op: "RemoveAttribute", AttributeName: k})
		for _, member := range list {
			ops = append(ops, AttributeOp{Op: "AddListMember", AttributeListName: k, NewMember: member})
		}
	}
	return ops
}

// Workspaces is the Rawls workspace façade.
type Workspaces struct {
	c *client
}

// List returns every workspace the user can see.
func (w *Workspaces) List(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, "workspaces", withAuth())
}

// Create creates a workspace.
func (w *Workspaces) Create(ctx context.Context, body any) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodPost, "workspaces", withAuth(), withJSON(body))
}

// GetShareLog returns addresses the user has shared workspaces with.
func (w *Workspaces) GetShareLog(ctx context.Context) ([]string, error) {
	return callJSON[[]string](ctx, w.c, w.c.orchestration, http.MethodGet, "api/sharelog/sharees?shareType=workspace", withAuth())
}

// GetTags searches workspace tags.
func (w *Workspaces) GetTags(ctx context.Context, tag string) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, withQuery("workspaces/tags", url.Values{"q": {tag}}), withAuth())
}

// Workspace scopes operations to one workspace.
func (w *Workspaces) Workspace(namespace, name string) *Workspace {
	return &Workspace{
		c:         w.c,
		namespace: namespace,
		name:      name,
		root:      fmt.Sprintf("workspaces/%s/%s", namespace, name),
	}
}

// Workspace is one workspace.
type Workspace struct {
	c         *client
	namespace string
	name      string
	root      string
}

// CheckBucketReadAccess fails unless the user can read the workspace bucket.
func (w *Workspace) CheckBucketReadAccess(ctx context.Context) error {
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/checkBucketReadAccess", withAuth())
}

// BucketAccess is the result of CheckBucketAccess.
type BucketAccess struct {
	// Checked is false when the access level did not allow the check.
	Checked       bool
	RequesterPays bool
}

// CheckBucketAccess reads the bucket's billing settings with the workspace pet token. The
// check is skipped without write access so no project-specific pet account is created for
// readers of public workspaces.
func (w *Workspace) CheckBucketAccess(ctx context.Context, bucket string, level session.AccessLevel) (BucketAccess, error) {
	if !session.CanWrite(level) {
		return BucketAccess{}, nil
	}
	res, err := callJSON[struct {
		Billing struct {
			RequesterPays bool `json:"requesterPays"`
		} `json:"billing"`
	}](ctx, w.c, w.c.buckets, http.MethodGet, "storage/v1/b/"+bucket+"?fields=billing", withSAToken(w.namespace))
	if err != nil {
		return BucketAccess{}, err
	}
	return BucketAccess{Checked: true, RequesterPays: res.Billing.RequesterPays}, nil
}

// Open loads the workspace with the caller's access level. Calls made under
// session.WithWorkspace(ctx, ws) bill requester-pays buckets to its namespace when the user
// can write to it.
func (w *Workspace) Open(ctx context.Context) (session.Workspace, error) {
	type details struct {
		AccessLevel session.AccessLevel `json:"accessLevel"`
		Workspace   struct {
			Namespace  string `json:"namespace"`
			Name       string `json:"name"`
			BucketName string `json:"bucketName"`
		} `json:"workspace"`
	}
	d, err := callJSON[details](ctx, w.c, w.c.rawls, http.MethodGet, w.root, withAuth())
	if err != nil {
		return session.Workspace{}, err
	}
	return session.Workspace{
		Namespace:   d.Workspace.Namespace,
		Name:        d.Workspace.Name,
		BucketName:  d.Workspace.BucketName,
		AccessLevel: d.AccessLevel,
	}, nil
}

// Details returns the workspace with its access level.
func (w *Workspace) Details(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root, withAuth())
}

// GetAcl returns the workspace ACL.
func (w *Workspace) GetAcl(ctx context.Context) (json.RawMessage, error) { //nolint:revive // mirrors the REST resource name
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/acl", withAuth())
}

// UpdateAcl patches the ACL, optionally inviting unregistered users.
func (w *Workspace) UpdateAcl(ctx context.Context, updates any, inviteNew bool) (json.RawMessage, error) { //nolint:revive // mirrors the REST resource name
	path := w.root + "/acl?inviteUsersNotFound=" + strconv.FormatBool(inviteNew)
	return callRaw(ctx, w.c, w.c.rawls, http.MethodPatch, path, withAuth(), withJSON(updates))
}

// EntityMetadata returns entity type counts and attribute names.
func (w *Workspace) EntityMetadata(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/entities", withAuth())
}

// CreateEntity creates one entity.
func (w *Workspace) CreateEntity(ctx context.Context, payload any) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodPost, w.root+"/entities", withAuth(), withJSON(payload))
}

// EntitiesOfType lists all entities of one type.
func (w *Workspace) EntitiesOfType(ctx context.Context, entityType string) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/entities/"+entityType, withAuth())
}

// PaginatedEntitiesOfType queries one page of entities.
func (w *Workspace) PaginatedEntitiesOfType(ctx context.Context, entityType string, params url.Values) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, withQuery(w.root+"/entityQuery/"+entityType, params), withAuth())
}

// ListMethodConfigs lists method configurations.
func (w *Workspace) ListMethodConfigs(ctx context.Context, allRepos bool) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/methodconfigs?allRepos="+strconv.FormatBool(allRepos), withAuth())
}

// ImportMethodConfigFromDocker creates a method configuration from a Dockstore payload.
func (w *Workspace) ImportMethodConfigFromDocker(ctx context.Context, payload any) error {
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodPost, w.root+"/methodconfigs", withAuth(), withJSON(payload))
}

// MethodConfig scopes operations to one method configuration.
func (w *Workspace) MethodConfig(configNamespace, configName string) *MethodConfig {
	return &MethodConfig{
		ws:        w,
		namespace: configNamespace,
		name:      configName,
		path:      fmt.Sprintf("%s/methodconfigs/%s/%s", w.root, configNamespace, configName),
	}
}

// ListSubmissions lists workflow submissions.
func (w *Workspace) ListSubmissions(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/submissions", withAuth())
}

// Submission scopes operations to one submission.
func (w *Workspace) Submission(id string) *Submission {
	return &Submission{ws: w, path: w.root + "/submissions/" + id}
}

// Delete deletes the workspace.
func (w *Workspace) Delete(ctx context.Context) error {
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodDelete, w.root, withAuth())
}

// Clone clones the workspace.
func (w *Workspace) Clone(ctx context.Context, body any) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodPost, w.root+"/clone", withAuth(), withJSON(body))
}

// ShallowMergeNewAttributes upserts attributes, replacing list values wholesale.
func (w *Workspace) ShallowMergeNewAttributes(ctx context.Context, attrs map[string]any) error {
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodPatch, w.root, withAuth(), withJSON(AttributesUpdateOps(attrs)))
}

// DeleteAttributes removes the named attributes.
func (w *Workspace) DeleteAttributes(ctx context.Context, names []string) error {
	ops := make([]AttributeOp, 0, len(names))
	for _, n := range names {
		ops = append(ops, AttributeOp{Op: "RemoveAttribute", AttributeName: n})
	}
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodPatch, w.root, withAuth(), withJSON(ops))
}

// ImportBagit imports a BagIt archive of TSVs.
func (w *Workspace) ImportBagit(ctx context.Context, bagitURL string) error {
	path := fmt.Sprintf("api/workspaces/%s/%s/importBagit", w.namespace, w.name)
	return callNoContent(ctx, w.c, w.c.orchestration, http.MethodPost, path, withAuth(), withJSON(map[string]string{
		"bagitURL": bagitURL,
		"format":   "TSV",
	}))
}

type importedEntity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entityType"`
	Attributes map[string]any `json:"attributes"`
}

type entityUpsert struct {
	Name       string        `json:"name"`
	EntityType string        `json:"entityType"`
	Operations []AttributeOp `json:"operations"`
}

// ImportEntities fetches an entity list from an arbitrary URL and batch-upserts it.
func (w *Workspace) ImportEntities(ctx context.Context, sourceURL string) error {
	entities, err := callJSON[[]importedEntity](ctx, w.c, w.c.fetch, http.MethodGet, sourceURL)
	if err != nil {
		return fmt.Errorf("fetch entities: %w", err)
	}
	body := make([]entityUpsert, 0, len(entities))
	for _, e := range entities {
		body = append(body, entityUpsert{Name: e.Name, EntityType: e.EntityType, Operations: AttributesUpdateOps(e.Attributes)})
	}
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodPost, w.root+"/entities/batchUpsert", withAuth(), withJSON(body))
}

// DeleteEntities deletes the given entities.
func (w *Workspace) DeleteEntities(ctx context.Context, entities any) error {
	return callNoContent(ctx, w.c, w.c.rawls, http.MethodPost, w.root+"/entities/delete", withAuth(), withJSON(entities))
}

// CopyEntities copies entities of one type into another workspace.
func (w *Workspace) CopyEntities(ctx context.Context, destNamespace, destName, entityType string, entities []string, link bool) (json.RawMessage, error) {
	payload := map[string]any{
		"sourceWorkspace":      map[string]string{"namespace": w.namespace, "name": w.name},
		"destinationWorkspace": map[string]string{"namespace": destNamespace, "name": destName},
		"entityType":           entityType,
		"entityNames":          entities,
	}
	path := "workspaces/entities/copy?linkExistingEntities=" + strconv.FormatBool(link)
	return callRaw(ctx, w.c, w.c.rawls, http.MethodPost, path, withAuth(), withJSON(payload))
}

// ExportAttributes downloads workspace attributes as TSV.
func (w *Workspace) ExportAttributes(ctx context.Context) ([]byte, error) {
	res, err := w.c.call(ctx, w.c.orchestration, http.MethodGet, "api/"+w.root+"/exportAttributesTSV", withAuth())
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// StorageCostEstimate returns the monthly storage estimate for the bucket.
func (w *Workspace) StorageCostEstimate(ctx context.Context) (json.RawMessage, error) {
	path := fmt.Sprintf("api/workspaces/%s/%s/storageCostEstimate", w.namespace, w.name)
	return callRaw(ctx, w.c, w.c.orchestration, http.MethodGet, path, withAuth())
}

func (w *Workspace) tagsPath() string {
	return fmt.Sprintf("api/workspaces/%s/%s/tags", w.namespace, w.name)
}

// GetTags returns the workspace tags.
func (w *Workspace) GetTags(ctx context.Context) ([]string, error) {
	return callJSON[[]string](ctx, w.c, w.c.orchestration, http.MethodGet, w.tagsPath(), withAuth())
}

// AddTag adds tag and returns the updated tags.
func (w *Workspace) AddTag(ctx context.Context, tag string) ([]string, error) {
	return callJSON[[]string](ctx, w.c, w.c.orchestration, http.MethodPatch, w.tagsPath(), withAuth(), withJSON([]string{tag}))
}

// DeleteTag removes tag and returns the updated tags.
func (w *Workspace) DeleteTag(ctx context.Context, tag string) ([]string, error) {
	return callJSON[[]string](ctx, w.c, w.c.orchestration, http.MethodDelete, w.tagsPath(), withAuth(), withJSON([]string{tag}))
}

// AccessInstructions returns instructions for joining the authorization domain.
func (w *Workspace) AccessInstructions(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, w.c, w.c.rawls, http.MethodGet, w.root+"/accessInstructions", withAuth())
}

// MethodConfig is one method configuration in a workspace.
type MethodConfig struct {
	ws        *Workspace
	namespace string
	name      string
	path      string
}

// Get returns the configuration.
func (m *MethodConfig) Get(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, m.ws.c, m.ws.c.rawls, http.MethodGet, m.path, withAuth())
}

// Save overwrites the configuration.
func (m *MethodConfig) Save(ctx context.Context, payload any) (json.RawMessage, error) {
	return callRaw(ctx, m.ws.c, m.ws.c.rawls, http.MethodPost, m.path, withAuth(), withJSON(payload))
}

// CopyDestination names where CopyTo writes.
type CopyDestination struct {
	ConfigNamespace string
	ConfigName      string
	Workspace       WorkspaceName
}

// WorkspaceName identifies a workspace.
type WorkspaceName struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// CopyTo copies the configuration to another name or workspace.
func (m *MethodConfig) CopyTo(ctx context.Context, dest CopyDestination) (json.RawMessage, error) {
	payload := map[string]any{
		"source": map[string]any{
			"namespace":     m.namespace,
			"name":          m.name,
			"workspaceName": WorkspaceName{Namespace: m.ws.namespace, Name: m.ws.name},
		},
		"destination": map[string]any{
			"namespace":     dest.ConfigNamespace,
			"name":          dest.ConfigName,
			"workspaceName": dest.Workspace,
		},
	}
	return callRaw(ctx, m.ws.c, m.ws.c.rawls, http.MethodPost, "methodconfigs/copy", withAuth(), withJSON(payload))
}

// Validate checks the configuration's inputs and outputs.
func (m *MethodConfig) Validate(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, m.ws.c, m.ws.c.rawls, http.MethodGet, m.path+"/validate", withAuth())
}

// Launch submits the configuration. The configuration's own namespace and name override any
// in payload.
func (m *MethodConfig) Launch(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["methodConfigurationNamespace"] = m.namespace
	body["methodConfigurationName"] = m.name
	return callRaw(ctx, m.ws.c, m.ws.c.rawls, http.MethodPost, m.ws.root+"/submissions", withAuth(), withJSON(body))
}

// Delete removes the configuration.
func (m *MethodConfig) Delete(ctx context.Context) error {
	return callNoContent(ctx, m.ws.c, m.ws.c.rawls, http.MethodDelete, m.path, withAuth())
}

// Submission is one workflow submission.
type Submission struct {
	ws   *Workspace
	path string
}

// Get returns the submission status.
func (s *Submission) Get(ctx context.Context) (json.RawMessage, error) {
	return callRaw(ctx, s.ws.c, s.ws.c.rawls, http.MethodGet, s.path, withAuth())
}

// Abort aborts the submission.
func (s *Submission) Abort(ctx context.Context) error {
	return callNoContent(ctx, s.ws.c, s.ws.c.rawls, http.MethodDelete, s.path, withAuth())
}
