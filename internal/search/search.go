package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/models"
)

const OrderIndex = "orders"

type OrderSearch struct {
	ES *elasticsearch.Client
	DB *gorm.DB
}

func NewClient(url, user, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.Status())
	}
	return client, nil
}

type orderDoc struct {
	ID          uint   `json:"id"`
	OrderNumber string `json:"order_number"`
	UserID      uint   `json:"user_id"`
	ProductLink string `json:"product_link"`
	Notes       string `json:"notes"`
	Status      string `json:"status"`
}

// IndexOrder upserts the order document. Callers treat failures as
// best-effort; the DB remains the source of truth.
func (s *OrderSearch) IndexOrder(ctx context.Context, o models.Order) error {
	if s == nil || s.ES == nil {
		return nil
	}

	doc := orderDoc{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		ProductLink: o.ProductLink,
		Notes:       o.Notes,
		Status:      o.Status,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	res, err := s.ES.Index(
		OrderIndex,
		bytes.NewReader(body),
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(strconv.FormatUint(uint64(o.ID), 10)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index order %d: %s", o.ID, res.Status())
	}
	return nil
}

// SearchOrders runs a fuzzy multi_match over number/link/notes. When the
// index is unreachable it degrades to a DB LIKE scan so admin search keeps
// working.
func (s *OrderSearch) SearchOrders(ctx context.Context, query string, from, size int) (int64, []models.Order, error) {
	if s.ES == nil {
		return s.searchDB(ctx, query, from, size)
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"order_number^3", "product_link", "notes"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, err
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(OrderIndex),
		s.ES.Search.WithBody(&buf),
	)
	if err != nil || res.IsError() {
		if res != nil {
			res.Body.Close()
		}
		logging.FromContext(ctx).Warn("order_search_degraded", "error", err)
		return s.searchDB(ctx, query, from, size)
	}
	defer res.Body.Close()

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source orderDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	ids := make([]uint, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		ids = append(ids, hit.Source.ID)
	}
	if len(ids) == 0 {
		return r.Hits.Total.Value, nil, nil
	}

	var orders []models.Order
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return r.Hits.Total.Value, orders, nil
}

func (s *OrderSearch) searchDB(ctx context.Context, query string, from, size int) (int64, []models.Order, error) {
	like := "%" + query + "%"
	q := s.DB.WithContext(ctx).Model(&models.Order{}).
		Where("order_number LIKE ? OR product_link LIKE ? OR notes LIKE ?", like, like, like)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(size).Offset(from).Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}
