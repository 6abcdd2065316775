package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/models"
)

func etsyTestReceipt(id int64) EtsyReceipt {
	return EtsyReceipt{
		ReceiptID:       id,
		Status:          "paid",
		Name:            "Jordan Buyer",
		BuyerEmail:      "jordan@example.com",
		FirstLine:       "1 Main St",
		City:            "Portland",
		State:           "OR",
		Zip:             "97201",
		CountryISO:      "US",
		Subtotal:        EtsyMoney{Amount: 2500, Divisor: 100, CurrencyCode: "USD"},
		Grandtotal:      EtsyMoney{Amount: 3000, Divisor: 100, CurrencyCode: "USD"},
		CreateTimestamp: time.Now().Unix(),
		Transactions: []EtsyTransaction{
			{TransactionID: 1, Title: "Mug", SKU: "MUG-1", Quantity: 2, ListingID: 77,
				Price: EtsyMoney{Amount: 1250, Divisor: 100, CurrencyCode: "USD"}},
		},
	}
}

func TestEtsyFetchRefreshesTokenOn401(t *testing.T) {
	var receiptCalls, tokenCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/application/shops/", func(w http.ResponseWriter, r *http.Request) {
		receiptCalls++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "client-1", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(etsyReceiptsResponse{
			Count:   1,
			Results: []EtsyReceipt{etsyTestReceipt(101)},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(etsyTokenResponse{
			AccessToken:  "fresh-token",
			RefreshToken: "refresh-2",
			ExpiresIn:    3600,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	creds := NewMemoryCredentialStore()
	adapter := NewEtsyAdapter(config.EtsyConfig{
		APIBaseURL:   server.URL,
		TokenURL:     server.URL + "/token",
		ClientID:     "client-1",
		ShopID:       "shop-1",
		AccessToken:  "expired-token",
		RefreshToken: "refresh-1",
		PageSize:     25,
	}, creds)

	raws, err := adapter.FetchOrdersSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.Equal(t, "101", raws[0].OrderID())
	require.Equal(t, 2, receiptCalls)
	require.Equal(t, 1, tokenCalls)

	// Refreshed credential was persisted for the next run
	cred, ok, err := creds.Load(context.Background(), PlatformEtsy)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh-token", cred.AccessToken)
	require.Equal(t, "refresh-2", cred.RefreshToken)
}

func TestEtsyFetchFailsAfterSecond401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/application/shops/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(etsyTokenResponse{AccessToken: "still-bad", ExpiresIn: 3600})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := NewEtsyAdapter(config.EtsyConfig{
		APIBaseURL:   server.URL,
		TokenURL:     server.URL + "/token",
		ClientID:     "client-1",
		ShopID:       "shop-1",
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
	}, NewMemoryCredentialStore())

	_, err := adapter.FetchOrdersSince(context.Background(), time.Now().Add(-time.Hour))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAuthFailed))
}

func TestEtsyFetchPaginates(t *testing.T) {
	pageSize := 2
	var offsets []string

	mux := http.NewServeMux()
	mux.HandleFunc("/application/shops/", func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)

		resp := etsyReceiptsResponse{}
		if offset == "0" {
			resp.Results = []EtsyReceipt{etsyTestReceipt(1), etsyTestReceipt(2)}
		} else {
			resp.Results = []EtsyReceipt{etsyTestReceipt(3)}
		}
		resp.Count = len(resp.Results)
		_ = json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := NewEtsyAdapter(config.EtsyConfig{
		APIBaseURL:  server.URL,
		TokenURL:    server.URL + "/token",
		ClientID:    "client-1",
		ShopID:      "shop-1",
		AccessToken: "token",
		PageSize:    pageSize,
	}, NewMemoryCredentialStore())

	raws, err := adapter.FetchOrdersSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, raws, 3)
	require.Equal(t, []string{"0", "2"}, offsets)
}

func TestEtsyNormalize(t *testing.T) {
	adapter := NewEtsyAdapter(config.EtsyConfig{}, NewMemoryCredentialStore())

	receipt := etsyTestReceipt(555)
	receipt.Shipments = []EtsyShipmentInfo{
		{TrackingCode: "9400100000000000000000", CarrierName: "USPS"},
	}

	order, err := adapter.Normalize(&receipt)
	require.NoError(t, err)
	require.Equal(t, PlatformEtsy, order.Platform)
	require.Equal(t, "555", order.PlatformOrderID)
	require.Equal(t, "ETSY-555", order.OrderNumber)
	require.Equal(t, models.OrderStatusPaid, order.Status)
	require.Equal(t, "merchant", order.FulfillmentChannel)
	require.Equal(t, "25", order.Subtotal.String())
	require.Equal(t, "30", order.Total.String())
	require.Equal(t, "USD", order.Currency)
	require.Len(t, order.Items, 1)
	require.Equal(t, "12.5", order.Items[0].UnitPrice.String())
	require.Equal(t, "9400100000000000000000", order.TrackingNumber)
	require.Equal(t, "USPS", order.Carrier)
}

func TestEtsyNormalizeRejectsWrongRawOrder(t *testing.T) {
	adapter := NewEtsyAdapter(config.EtsyConfig{}, NewMemoryCredentialStore())
	_, err := adapter.Normalize(&AmazonOrder{AmazonOrderID: "x"})
	require.ErrorIs(t, err, ErrWrongRawOrder)
}

func TestMapEtsyStatus(t *testing.T) {
	// is_shipped wins over the textual status
	shipped := etsyTestReceipt(1)
	shipped.IsShipped = true
	shipped.Status = "paid"
	require.Equal(t, models.OrderStatusShipped, mapEtsyStatus(&shipped))

	cases := map[string]models.OrderStatus{
		"open":               models.OrderStatusPending,
		"Paid":               models.OrderStatusPaid,
		"completed":          models.OrderStatusCompleted,
		"canceled":           models.OrderStatusCancelled,
		"fully refunded":     models.OrderStatusRefunded,
		"some future status": models.OrderStatusUnknown,
	}
	for status, expected := range cases {
		receipt := etsyTestReceipt(1)
		receipt.Status = status
		require.Equal(t, expected, mapEtsyStatus(&receipt), "status %q", status)
	}
}
