package validation

import (
	"testing"
)

func validBuyer() Buyer {
	return Buyer{Name: "Hana Sato", Country: "JP", Address: "1-2-3 Ginza, Chuo-ku, Tokyo"}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		PlatformOrderRef: "mp-1001",
		Items: []Item{
			{SKU: "sku-1", Quantity: 2, Price: 10.0},
			{SKU: "sku-2", Quantity: 1},
		},
		Buyer: validBuyer(),
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateOrderRequest_DuplicateSKU(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		PlatformOrderRef: "mp-1001",
		Items: []Item{
			{SKU: "sku-1", Quantity: 1},
			{SKU: "sku-1", Quantity: 2},
		},
		Buyer: validBuyer(),
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for duplicate sku, got nil")
	}
}

func TestCreateOrderRequest_MissingFields(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		// PlatformOrderRef missing
		Items: []Item{},
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}

func TestCreateOrderRequest_BadCountryCode(t *testing.T) {
	v := New()

	buyer := validBuyer()
	buyer.Country = "JPN"
	req := CreateOrderRequest{
		PlatformOrderRef: "mp-1001",
		Items:            []Item{{SKU: "sku-1", Quantity: 1}},
		Buyer:            buyer,
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for country code, got nil")
	}
}

func TestWebhookRequest_MissingEventID(t *testing.T) {
	v := New()

	req := WebhookRequest{OrderID: "o-1", Status: "shipped"}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for missing event_id, got nil")
	}
}
