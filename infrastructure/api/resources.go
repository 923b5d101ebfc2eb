package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"communitysync/application/ports"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/errors"
)

// List fetches one page of a resource
func (c *Client) List(ctx context.Context, resource valueobjects.EntityType, query ports.ListQuery) (*ports.ListResult, error) {
	q := url.Values{}
	for k, v := range query.Filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("limit", strconv.Itoa(query.Limit))
	q.Set("offset", strconv.Itoa(query.Offset))

	body, err := c.do(ctx, request{
		op:     "list_" + resource.String(),
		method: http.MethodGet,
		path:   "/" + resource.String(),
		query:  q,
	})
	if err != nil {
		return nil, err
	}
	result, err := c.decoder.decodeList(resource, body)
	if err != nil {
		return nil, malformed(resource, err)
	}
	return result, nil
}

// Get fetches one entity. Library notes come with their children embedded.
func (c *Client) Get(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) (*entities.Record, error) {
	body, err := c.do(ctx, request{
		op:       "get_" + resource.String(),
		method:   http.MethodGet,
		path:     entityPath(resource, id),
		notFound: errors.EntityNotFound(resource.String(), id.Int64()),
	})
	if err != nil {
		return nil, err
	}
	return c.record(resource, body)
}

// Create posts a new entity
func (c *Client) Create(ctx context.Context, resource valueobjects.EntityType, payload map[string]interface{}) (*entities.Record, error) {
	body, err := c.do(ctx, request{
		op:     "create_" + resource.String(),
		method: http.MethodPost,
		path:   "/" + resource.String(),
		body:   payload,
	})
	if err != nil {
		return nil, err
	}
	return c.record(resource, body)
}

// Update patches an entity with the fields in payload
func (c *Client) Update(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID, payload map[string]interface{}) (*entities.Record, error) {
	body, err := c.do(ctx, request{
		op:       "update_" + resource.String(),
		method:   http.MethodPatch,
		path:     entityPath(resource, id),
		body:     payload,
		notFound: errors.EntityNotFound(resource.String(), id.Int64()),
	})
	if err != nil {
		return nil, err
	}
	return c.record(resource, body)
}

// Delete removes an entity
func (c *Client) Delete(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) error {
	_, err := c.do(ctx, request{
		op:       "delete_" + resource.String(),
		method:   http.MethodDelete,
		path:     entityPath(resource, id),
		notFound: errors.EntityNotFound(resource.String(), id.Int64()),
	})
	return err
}

func (c *Client) record(resource valueobjects.EntityType, body []byte) (*entities.Record, error) {
	rec, err := c.decoder.decodeRecord(resource, body)
	if err != nil {
		return nil, malformed(resource, err)
	}
	return rec, nil
}

func entityPath(resource valueobjects.EntityType, id valueobjects.EntityID) string {
	return "/" + resource.String() + "/" + id.String()
}

func malformed(resource valueobjects.EntityType, err error) error {
	return errors.NewExternalError(serviceName, fmt.Errorf("malformed %s payload: %w", resource, err)).
		WithCode("MALFORMED_PAYLOAD")
}
