package adminsync

import (
	"context"
	"time"

	"github.com/storefront/adminsync/httpclient"
	"github.com/storefront/adminsync/pkg/connection"
	"github.com/storefront/adminsync/pkg/models"
	"github.com/storefront/adminsync/pkg/mutation"
)

// payloadKeys names where pushed events carry their entity.
var payloadKeys = map[string]string{
	models.EventOrderPlaced:    "order",
	models.EventUserRegistered: "user",
}

// Collection is one admin screen's entities: a Mutation Controller over the
// /admin/{kind} endpoints, fed by the client's event channel through Follow.
type Collection[E models.Entity[E]] struct {
	*mutation.Controller[E]

	client   *Client
	resource *httpclient.Resource[E]
}

// NewCollection creates an empty collection of kind. Call Refresh to load it.
func NewCollection[E models.Entity[E]](client *Client, kind string) *Collection[E] {
	resource := httpclient.NewResource[E](client.api, kind)

	ctrl := mutation.New[E](kind, resource, client.logger)
	ctrl.Timeout = client.conf.RequestTimeout.Duration
	ctrl.Metrics = client.metrics

	return &Collection[E]{
		Controller: ctrl,
		client:     client,
		resource:   resource,
	}
}

// Follow applies the entity carried by every pushed eventName event through
// ApplyRemote, so server-side changes show up without a refresh. The entity
// is read from the event's known payload key ("order" for orderPlaced, "user"
// for userRegistered) or from the whole payload otherwise.
func (col *Collection[E]) Follow(eventName string) (unfollow func()) {
	key := payloadKeys[eventName]

	return col.client.onFrame(eventName, func(frame connection.Frame) {
		var entity E
		if err := frame.Decode(key, &entity); err != nil {
			col.client.logger.Warn("adminsync.Collection failed to decode pushed entity",
				"collection", col.Collection, "event", eventName, "error", err)
			return
		}
		if err := col.ApplyRemote(entity); err != nil {
			col.client.logger.Warn("adminsync.Collection failed to apply pushed entity",
				"collection", col.Collection, "event", eventName, "error", err)
		}
	})
}

// Poll refreshes the collection every Poll.EntityInterval until ctx is
// cancelled, for screens whose entities have no push event.
func (col *Collection[E]) Poll(ctx context.Context) error {
	ticker := time.NewTicker(col.client.conf.Poll.EntityInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := col.Refresh(ctx); err != nil {
			col.client.logger.Warn("adminsync.Collection poll failed",
				"collection", col.Collection, "error", err)
		}
	}
}

// Kind returns the REST path segment the collection is served under.
func (col *Collection[E]) Kind() string {
	return col.resource.Kind()
}
