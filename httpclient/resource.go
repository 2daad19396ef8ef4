package httpclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/storefront/adminsync/pkg/models"
)

// Resource serves one entity kind over /admin/{kind}. It satisfies
// mutation.Resource.
type Resource[E models.Entity[E]] struct {
	client *Client
	kind   string
}

func NewResource[E models.Entity[E]](client *Client, kind string) *Resource[E] {
	return &Resource[E]{client: client, kind: kind}
}

func (r *Resource[E]) Kind() string {
	return r.kind
}

func (r *Resource[E]) collectionPath() string {
	return "/admin/" + r.kind
}

func (r *Resource[E]) entityPath(id string) string {
	return r.collectionPath() + "/" + url.PathEscape(id)
}

func (r *Resource[E]) Fetch(ctx context.Context) ([]E, error) {
	var list []E
	if err := r.client.Do(ctx, http.MethodGet, r.collectionPath(), nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Create posts payload and returns the confirmed entity. An empty response
// body yields the zero value, which the controller treats as an id-less
// confirmation.
func (r *Resource[E]) Create(ctx context.Context, payload E) (E, error) {
	var confirmed E
	err := r.client.Do(ctx, http.MethodPost, r.collectionPath(), nil, payload, &confirmed)
	return confirmed, err
}

func (r *Resource[E]) Update(ctx context.Context, id string, payload E) (E, error) {
	var confirmed E
	err := r.client.Do(ctx, http.MethodPatch, r.entityPath(id), nil, payload, &confirmed)
	return confirmed, err
}

func (r *Resource[E]) Delete(ctx context.Context, id string) error {
	return r.client.Do(ctx, http.MethodDelete, r.entityPath(id), nil, nil, nil)
}
