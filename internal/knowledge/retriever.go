package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"github.com/rs/zerolog/log"

	"insight-engine-backend/config"
)

// Fragment is one piece of retrieved domain knowledge: a schema note, a
// business-term definition, or a prior question/SQL example. The engine
// forwards fragments verbatim into generation prompts; deciding what is
// relevant is the index's job.
type Fragment struct {
	DatasetID string `json:"dataset_id"`
	Kind      string `json:"kind"` // "schema" | "doc" | "example"
	Content   string `json:"content"`
}

type Retriever interface {
	Retrieve(ctx context.Context, datasetID, question string, size int) ([]Fragment, error)
}

type esRetriever struct {
	client *elasticsearch.TypedClient
	index  string
}

func NewESRetriever(cfg *config.Config) (Retriever, error) {
	if len(cfg.Elasticsearch.Addresses) == 0 {
		log.Error().Msg("Elasticsearch addresses are not configured.")
		return nil, errors.New("elasticsearch configuration missing")
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost:   10,
		ResponseHeaderTimeout: time.Second * 10,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Transport: transport,
	}

	var client *elasticsearch.TypedClient
	operation := func() error {
		var err error
		client, err = elasticsearch.NewTypedClient(esCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Attempt failed: error creating the Elasticsearch client")
			return err
		}
		ok, err := client.Ping().Do(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("Attempt failed: error pinging Elasticsearch")
			return err
		}
		if !ok {
			err = errors.New("elasticsearch ping returned not-ok")
			log.Warn().Err(err).Msg("Attempt failed: Elasticsearch ping not ok")
			return err
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	log.Info().Strs("addresses", cfg.Elasticsearch.Addresses).Str("index", cfg.Elasticsearch.KnowledgeIndex).Msg("Knowledge retriever initialized")

	return &esRetriever{
		client: client,
		index:  cfg.Elasticsearch.KnowledgeIndex,
	}, nil
}

// Retrieve performs a full-text match on fragment content, filtered to the
// dataset, most relevant first.
func (r *esRetriever) Retrieve(ctx context.Context, datasetID, question string, size int) ([]Fragment, error) {
	if size <= 0 {
		size = 8
	}

	searchRequest := &search.Request{
		Query: &types.Query{
			Bool: &types.BoolQuery{
				Must: []types.Query{
					{
						Match: map[string]types.MatchQuery{
							"content": {Query: question},
						},
					},
				},
				Filter: []types.Query{
					{
						Term: map[string]types.TermQuery{
							"dataset_id": {Value: datasetID},
						},
					},
				},
			},
		},
		Size: &size,
	}

	res, err := r.client.Search().
		Index(r.index).
		Request(searchRequest).
		Do(ctx)
	if err != nil {
		log.Error().Err(err).Str("dataset", datasetID).Msg("Knowledge retrieval failed")
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	fragments := make([]Fragment, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		if hit.Source_ == nil {
			continue
		}
		var f Fragment
		if err := json.Unmarshal(hit.Source_, &f); err != nil {
			log.Error().Err(err).Msg("Error unmarshalling knowledge fragment")
			continue
		}
		fragments = append(fragments, f)
	}

	log.Debug().Str("dataset", datasetID).Int("fragments", len(fragments)).Msg("Retrieved knowledge fragments")
	return fragments, nil
}
