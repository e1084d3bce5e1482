package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Item is a priced, named product. Name is the lookup key but is not unique.
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	ID    int     `json:"id"`
}

// CreateItemRequest is the body accepted when creating an item.
// Name is accepted for shape compatibility but the path parameter wins.
type CreateItemRequest struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price" binding:"required"`
	ID    *int     `json:"id" binding:"required"`
}

// UnmarshalJSON decodes the body leniently: price and id accept JSON numbers
// or numeric strings, and id accepts floats with no fractional part. Absent
// or null fields stay nil so the required check reports them.
func (r *CreateItemRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Price json.RawMessage `json:"price"`
		ID    json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Name = raw.Name
	r.Price, r.ID = nil, nil

	if present(raw.Price) {
		price, err := parsePrice(raw.Price)
		if err != nil {
			return err
		}
		r.Price = &price
	}
	if present(raw.ID) {
		id, err := parseID(raw.ID)
		if err != nil {
			return err
		}
		r.ID = &id
	}
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// number returns raw as a json.Number, converting numeric strings.
func number(raw json.RawMessage) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch n := v.(type) {
	case json.Number:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", fmt.Errorf("%q is not a number", n)
		}
		return json.Number(s), nil
	}
	return "", fmt.Errorf("%s is not a number", raw)
}

func parsePrice(raw json.RawMessage) (float64, error) {
	n, err := number(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid price: %w", err)
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("invalid price: %s is not a finite number", n)
	}
	return f, nil
}

func parseID(raw json.RawMessage) (int, error) {
	n, err := number(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	if i, err := strconv.ParseInt(string(n), 10, strconv.IntSize); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid id: %s is not an integer", n)
	}
	return int(f), nil
}

// ToItem builds the stored Item, taking the name from the caller.
func (r CreateItemRequest) ToItem(name string) Item {
	item := Item{Name: name}
	if r.Price != nil {
		item.Price = *r.Price
	}
	if r.ID != nil {
		item.ID = *r.ID
	}
	return item
}

// SeedItems returns the items present at process start.
func SeedItems() []Item {
	return []Item{
		{Name: "Foo", Price: 9.99, ID: 999},
		{Name: "Bar", Price: 5.99, ID: 555},
	}
}
