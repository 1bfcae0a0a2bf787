package weaviatedb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"screenpilot/internal/config"
	"screenpilot/internal/helper"
	ragmodels "screenpilot/internal/models"
)

const (
	propText   = "text"
	propSource = "source"
	propPage   = "page"
	propChunk  = "chunk_id"

	localHost = "localhost:8080"
)

// Store keeps page chunks in a Weaviate class with caller-supplied vectors.
type Store struct {
	client    *weaviate.Client
	className string
}

// Connect uses Weaviate Cloud (API key auth) for https URLs with a key and a
// plain HTTP local instance otherwise.
func Connect(cfg config.WeaviateConfig) (*Store, error) {
	wcfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to weaviate: %w", err)
	}
	return &Store{client: client, className: cfg.Class}, nil
}

func clientConfig(cfg config.WeaviateConfig) (weaviate.Config, error) {
	if cfg.APIKey != "" && strings.HasPrefix(cfg.URL, "https") {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return weaviate.Config{}, fmt.Errorf("invalid weaviate url: %w", err)
		}
		log.Info().Str("host", u.Host).Msg("Connecting to Weaviate Cloud")
		return weaviate.Config{
			Host:       u.Host,
			Scheme:     u.Scheme,
			AuthConfig: auth.ApiKey{Value: cfg.APIKey},
		}, nil
	}

	host := localHost
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return weaviate.Config{}, fmt.Errorf("invalid weaviate url: %w", err)
		}
		if u.Host != "" {
			host = u.Host
		}
	}
	log.Info().Str("host", host).Msg("Connecting to local Weaviate instance (HTTP only)")
	return weaviate.Config{Host: host, Scheme: "http"}, nil
}

func (s *Store) Name() string { return config.StoreWeaviate }

// Init creates the class if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check class %s: %w", s.className, err)
	}
	if exists {
		log.Info().Str("class", s.className).Msg("Class already exists")
		return nil
	}

	err = s.client.Schema().ClassCreator().WithClass(classSchema(s.className)).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to create class %s: %w", s.className, err)
	}
	log.Info().Str("class", s.className).Msg("Created class")
	return nil
}

func classSchema(name string) *models.Class {
	return &models.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: propText, DataType: []string{"text"}},
			{Name: propSource, DataType: []string{"text"}},
			{Name: propPage, DataType: []string{"int"}},
			{Name: propChunk, DataType: []string{"int"}},
		},
	}
}

func (s *Store) Upsert(ctx context.Context, records []ragmodels.VectorRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	objects, ids, err := s.toObjects(records)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to store objects: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return nil, fmt.Errorf("failed to store object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	log.Debug().Int("count", len(objects)).Str("class", s.className).Msg("Upserted objects")
	return ids, nil
}

func (s *Store) toObjects(records []ragmodels.VectorRecord) ([]*models.Object, []string, error) {
	objects := make([]*models.Object, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		id := r.ID
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				return nil, nil, err
			}
		}
		ids[i] = id
		objects[i] = &models.Object{
			Class: s.className,
			ID:    strfmt.UUID(id),
			Properties: map[string]any{
				propText:   r.Content,
				propSource: r.Source,
				propPage:   r.PageNumber,
				propChunk:  r.ChunkID,
			},
			Vector: r.Embedding,
		}
	}
	return objects, ids, nil
}

// Query runs a near-vector GraphQL search.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int) ([]ragmodels.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	gql := s.client.GraphQL()
	resp, err := gql.Get().
		WithClassName(s.className).
		WithNearVector(gql.NearVectorArgBuilder().WithVector(embedding)).
		WithFields(
			graphql.Field{Name: propText},
			graphql.Field{Name: propSource},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{
				{Name: "id"},
				{Name: "distance"},
			}},
		).
		WithLimit(topK).
		Do(ctx)
	if werr := combinedWeaviateError(resp, err); werr != nil {
		return nil, werr
	}
	return decodeGetResults(resp, s.className)
}

// DeleteDocument removes every object whose source matches.
func (s *Store) DeleteDocument(ctx context.Context, source string) error {
	where := filters.Where().
		WithPath([]string{propSource}).
		WithOperator(filters.Equal).
		WithValueText(source)
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", source, err)
	}
	return nil
}

func (s *Store) Ready(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("weaviate is not ready")
	}
	return nil
}

// Reset drops and recreates the class.
func (s *Store) Reset(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.className).Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
			return fmt.Errorf("failed to delete class %s: %w", s.className, err)
		}
		log.Info().Str("class", s.className).Msg("Deleted class")
	}
	return s.Init(ctx)
}

// Close is a no-op; the client holds no connection state.
func (s *Store) Close() error { return nil }

func combinedWeaviateError(resp *models.GraphQLResponse, err error) error {
	if err != nil {
		return fmt.Errorf("weaviate query: %w", err)
	}
	if resp == nil {
		return errors.New("weaviate query: empty response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("weaviate query: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// decodeGetResults walks the nested map GraphQL Get returns.
func decodeGetResults(resp *models.GraphQLResponse, className string) ([]ragmodels.SearchResult, error) {
	data, ok := resp.Data["Get"]
	if !ok {
		return nil, fmt.Errorf("get key not found in result")
	}
	get, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get key unexpected type")
	}
	items, ok := get[className].([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list of results", className)
	}

	out := make([]ragmodels.SearchResult, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid element in list of results")
		}
		r := ragmodels.SearchResult{}
		r.Text, _ = obj[propText].(string)
		r.Source, _ = obj[propSource].(string)
		if add, ok := obj["_additional"].(map[string]any); ok {
			r.ID, _ = add["id"].(string)
			if d, ok := add["distance"].(float64); ok {
				r.Distance = float32(d)
				r.Score = 1 - float32(d)
			}
		}
		out = append(out, r)
	}
	return out, nil
}
