package notebook

import (
	"context"

	"github.com/JakeFAU/workspace-portal/internal/services"
)

// servicesBackend adapts the portal façades to Backend.
type servicesBackend struct {
	ajax *services.Ajax
}

// NewBackend returns a Backend over the portal façades.
func NewBackend(a *services.Ajax) Backend {
	return servicesBackend{ajax: a}
}

func (b servicesBackend) NotebookObject(ctx context.Context, namespace, bucket, notebook string) (services.Object, error) {
	return b.ajax.Buckets.Notebook(namespace, bucket, notebook).GetObject(ctx)
}

func (b servicesBackend) StartCluster(ctx context.Context, project, cluster string) error {
	return b.ajax.Jupyter.Cluster(project, cluster).Start(ctx)
}

func (b servicesBackend) Localize(ctx context.Context, project, cluster string, files map[string]string) error {
	return b.ajax.Jupyter.Notebooks(project, cluster).Localize(ctx, files)
}

func (b servicesBackend) SetCookie(ctx context.Context, project, cluster string) error {
	return b.ajax.Jupyter.Notebooks(project, cluster).SetCookie(ctx)
}
