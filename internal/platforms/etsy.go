package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/models"
)

// PlatformEtsy is the platform code for the Etsy adapter
const PlatformEtsy = "etsy"

// EtsyAdapter pulls shop receipts from the Etsy v3 API. Auth is OAuth2 with
// a short-lived access token and a long-lived refresh token; a 401 triggers
// exactly one transparent refresh and retry.
type EtsyAdapter struct {
	cfg        config.EtsyConfig
	httpClient *http.Client
	creds      CredentialStore
}

// NewEtsyAdapter creates a new Etsy adapter. The credential store is seeded
// from config the first time it is empty.
func NewEtsyAdapter(cfg config.EtsyConfig, creds CredentialStore) *EtsyAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &EtsyAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
	}
}

// Platform returns the platform code this adapter handles
func (a *EtsyAdapter) Platform() string {
	return PlatformEtsy
}

// EtsyMoney is Etsy's fixed-point money representation
type EtsyMoney struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

// Decimal converts the fixed-point amount into a decimal value
func (m EtsyMoney) Decimal() decimal.Decimal {
	if m.Divisor == 0 {
		return decimal.NewFromInt(m.Amount)
	}
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(m.Divisor))
}

// EtsyTransaction is a single line item on a receipt
type EtsyTransaction struct {
	TransactionID int64     `json:"transaction_id"`
	Title         string    `json:"title"`
	SKU           string    `json:"sku"`
	Quantity      int       `json:"quantity"`
	ListingID     int64     `json:"listing_id"`
	ProductID     int64     `json:"product_id"`
	Price         EtsyMoney `json:"price"`
}

// EtsyShipmentInfo is the tracking block Etsy attaches once a label exists
type EtsyShipmentInfo struct {
	ReceiptShippingID int64  `json:"receipt_shipping_id"`
	TrackingCode      string `json:"tracking_code"`
	CarrierName       string `json:"carrier_name"`
	NotificationTime  int64  `json:"shipment_notification_timestamp"`
}

// EtsyReceipt is the raw shape of one Etsy order
type EtsyReceipt struct {
	ReceiptID         int64              `json:"receipt_id"`
	Status            string             `json:"status"`
	IsShipped         bool               `json:"is_shipped"`
	Name              string             `json:"name"`
	BuyerEmail        string             `json:"buyer_email"`
	FirstLine         string             `json:"first_line"`
	SecondLine        string             `json:"second_line"`
	City              string             `json:"city"`
	State             string             `json:"state"`
	Zip               string             `json:"zip"`
	CountryISO        string             `json:"country_iso"`
	Subtotal          EtsyMoney          `json:"subtotal"`
	TotalShippingCost EtsyMoney          `json:"total_shipping_cost"`
	TotalTaxCost      EtsyMoney          `json:"total_tax_cost"`
	Grandtotal        EtsyMoney          `json:"grandtotal"`
	CreateTimestamp   int64              `json:"create_timestamp"`
	UpdateTimestamp   int64              `json:"update_timestamp"`
	Transactions      []EtsyTransaction  `json:"transactions"`
	Shipments         []EtsyShipmentInfo `json:"shipments"`
}

// Platform returns the platform code of the raw order
func (r *EtsyReceipt) Platform() string { return PlatformEtsy }

// OrderID returns the platform order identifier
func (r *EtsyReceipt) OrderID() string { return strconv.FormatInt(r.ReceiptID, 10) }

type etsyReceiptsResponse struct {
	Count   int           `json:"count"`
	Results []EtsyReceipt `json:"results"`
}

// FetchOrdersSince pulls all receipts created at or after the given time,
// walking offset/limit pages until a page comes back short.
func (a *EtsyAdapter) FetchOrdersSince(ctx context.Context, since time.Time) ([]RawOrder, error) {
	raws := make([]RawOrder, 0)
	offset := 0

	for {
		page, err := a.fetchReceiptsPage(ctx, since, offset)
		if err != nil {
			return nil, err
		}

		for i := range page.Results {
			receipt := page.Results[i]
			raws = append(raws, &receipt)
		}

		if len(page.Results) < a.cfg.PageSize {
			break
		}
		offset += a.cfg.PageSize
	}

	log.Debug().Int("count", len(raws)).Time("since", since).Msg("Fetched Etsy receipts")
	return raws, nil
}

// fetchReceiptsPage fetches one page of receipts, refreshing the access
// token once on a 401
func (a *EtsyAdapter) fetchReceiptsPage(ctx context.Context, since time.Time, offset int) (*etsyReceiptsResponse, error) {
	cred, err := a.credential(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(a.cfg.PageSize))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("min_created", strconv.FormatInt(since.Unix(), 10))

	endpoint := fmt.Sprintf("%s/application/shops/%s/receipts?%s",
		strings.TrimRight(a.cfg.APIBaseURL, "/"), a.cfg.ShopID, query.Encode())

	body, status, err := a.doGet(ctx, endpoint, cred)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		// Refresh once and retry exactly once; a second 401 is a hard
		// authentication failure.
		cred, err = a.refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		body, status, err = a.doGet(ctx, endpoint, cred)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, errors.Wrap(ErrAuthFailed, "etsy rejected refreshed token")
		}
	}

	if status >= 400 {
		return nil, errors.Wrapf(ErrRequestFailed, "etsy returned HTTP %d", status)
	}

	var resp etsyReceiptsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	return &resp, nil
}

// doGet performs an authenticated GET and returns the body and status code
func (a *EtsyAdapter) doGet(ctx context.Context, endpoint string, cred Credential) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create Etsy request")
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("x-api-key", a.cfg.ClientID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "etsy request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read Etsy response")
	}
	return body, resp.StatusCode, nil
}

// credential loads the current credential, seeding the store from config on
// first use
func (a *EtsyAdapter) credential(ctx context.Context) (Credential, error) {
	cred, ok, err := a.creds.Load(ctx, PlatformEtsy)
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to load Etsy credential")
	}
	if !ok {
		cred = Credential{
			AccessToken:  a.cfg.AccessToken,
			RefreshToken: a.cfg.RefreshToken,
		}
	}
	return cred, nil
}

type etsyTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh exchanges the refresh token for a new access token and persists
// the result through the credential store
func (a *EtsyAdapter) refresh(ctx context.Context, cred Credential) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", a.cfg.ClientID)
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to create Etsy token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credential{}, errors.Wrap(err, "etsy token refresh failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to read Etsy token response")
	}
	if resp.StatusCode >= 400 {
		return Credential{}, errors.Wrapf(ErrAuthFailed, "etsy token refresh returned HTTP %d", resp.StatusCode)
	}

	var token etsyTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return Credential{}, errors.Wrap(ErrInvalidResponse, err.Error())
	}

	refreshed := Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}

	if err := a.creds.Save(ctx, PlatformEtsy, refreshed); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed Etsy credential")
	}

	log.Info().Msg("Refreshed Etsy access token")
	return refreshed, nil
}

// Normalize maps an Etsy receipt into the canonical order shape
func (a *EtsyAdapter) Normalize(raw RawOrder) (*models.Order, error) {
	receipt, ok := raw.(*EtsyReceipt)
	if !ok {
		return nil, ErrWrongRawOrder
	}
	if receipt.ReceiptID == 0 {
		return nil, errors.Wrap(ErrInvalidResponse, "etsy receipt missing receipt_id")
	}

	order := &models.Order{
		Platform:        PlatformEtsy,
		PlatformOrderID: receipt.OrderID(),
		OrderNumber:     fmt.Sprintf("ETSY-%d", receipt.ReceiptID),
		Status:          mapEtsyStatus(receipt),
		CustomerName:    receipt.Name,
		CustomerEmail:   receipt.BuyerEmail,
		ShipToName:      receipt.Name,
		ShipToLine1:     receipt.FirstLine,
		ShipToLine2:     receipt.SecondLine,
		ShipToCity:      receipt.City,
		ShipToState:     receipt.State,
		ShipToZip:       receipt.Zip,
		ShipToCountry:   receipt.CountryISO,
		Subtotal:        receipt.Subtotal.Decimal(),
		ShippingCost:    receipt.TotalShippingCost.Decimal(),
		Tax:             receipt.TotalTaxCost.Decimal(),
		Total:           receipt.Grandtotal.Decimal(),
		Currency:        receipt.Grandtotal.CurrencyCode,
		// Etsy sellers ship their own orders
		FulfillmentChannel: "merchant",
		PlatformCreatedAt:  time.Unix(receipt.CreateTimestamp, 0).UTC(),
	}

	if receipt.UpdateTimestamp > 0 {
		updated := time.Unix(receipt.UpdateTimestamp, 0).UTC()
		order.PlatformUpdatedAt = &updated
	}

	for _, txn := range receipt.Transactions {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: strconv.FormatInt(txn.ListingID, 10),
			Title:     txn.Title,
			SKU:       txn.SKU,
			Quantity:  txn.Quantity,
			UnitPrice: txn.Price.Decimal(),
		})
	}

	if len(receipt.Shipments) > 0 {
		order.TrackingNumber = receipt.Shipments[0].TrackingCode
		order.Carrier = receipt.Shipments[0].CarrierName
	}

	return order, nil
}

// mapEtsyStatus maps Etsy receipt statuses into canonical order statuses.
// The mapping is total: unrecognized values fall back to unknown.
func mapEtsyStatus(receipt *EtsyReceipt) models.OrderStatus {
	if receipt.IsShipped {
		return models.OrderStatusShipped
	}
	switch strings.ToLower(receipt.Status) {
	case "open", "payment processing":
		return models.OrderStatusPending
	case "paid":
		return models.OrderStatusPaid
	case "shipped":
		return models.OrderStatusShipped
	case "completed":
		return models.OrderStatusCompleted
	case "canceled", "cancelled":
		return models.OrderStatusCancelled
	case "fully refunded", "partially refunded":
		return models.OrderStatusRefunded
	default:
		return models.OrderStatusUnknown
	}
}

// Ensure EtsyAdapter implements the Adapter interface
var _ Adapter = (*EtsyAdapter)(nil)
