package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexOrder indexes a synced order for operator search. The document ID is
// the order's natural key so re-syncs overwrite rather than duplicate.
func (c *ElasticClient) IndexOrder(ctx context.Context, order *models.Order) error {
	if c == nil {
		return nil
	}

	orderDoc := map[string]interface{}{
		"id":                  order.ID.String(),
		"platform":            order.Platform,
		"platform_order_id":   order.PlatformOrderID,
		"order_number":        order.OrderNumber,
		"status":              order.Status.String(),
		"customer_name":       order.CustomerName,
		"customer_email":      order.CustomerEmail,
		"ship_to_city":        order.ShipToCity,
		"ship_to_state":       order.ShipToState,
		"ship_to_country":     order.ShipToCountry,
		"total":               order.Total.String(),
		"currency":            order.Currency,
		"fulfillment_channel": order.FulfillmentChannel,
		"tracking_number":     order.TrackingNumber,
		"item_count":          len(order.Items),
		"platform_created_at": order.PlatformCreatedAt,
	}

	docJSON, err := json.Marshal(orderDoc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: order.Platform + ":" + order.PlatformOrderID,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("order_id", order.ID.String()).Msg("Order indexed")
	return nil
}

// SearchOrders searches indexed orders with the given query
func (c *ElasticClient) SearchOrders(ctx context.Context, query map[string]interface{}) ([]map[string]interface{}, error) {
	if c == nil {
		return nil, errors.New("search is not configured")
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}
	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, source)
	}

	return docs, nil
}
