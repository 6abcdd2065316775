package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/models"
)

// PlatformAmazon is the platform code for the Amazon SP-API adapter
const PlatformAmazon = "amazon"

// emptyPayloadHash is the SHA-256 of an empty body, used for GET requests
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// AmazonAdapter pulls orders from the Selling Partner API. Every request
// carries an LWA bearer token (x-amz-access-token) plus an AWS SigV4
// Authorization header. Item and address detail require secondary calls per
// order; a failed secondary call degrades that order to partial data rather
// than failing the batch.
type AmazonAdapter struct {
	cfg        config.AmazonConfig
	httpClient *http.Client
	creds      CredentialStore
	now        func() time.Time
}

// NewAmazonAdapter creates a new Amazon SP-API adapter
func NewAmazonAdapter(cfg config.AmazonConfig, creds CredentialStore) *AmazonAdapter {
	return &AmazonAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
		now:        time.Now,
	}
}

// Platform returns the platform code this adapter handles
func (a *AmazonAdapter) Platform() string {
	return PlatformAmazon
}

// AmazonMoney is the SP-API money shape (amount is a decimal string)
type AmazonMoney struct {
	CurrencyCode string `json:"CurrencyCode"`
	Amount       string `json:"Amount"`
}

// Decimal parses the amount, returning zero on malformed input
func (m AmazonMoney) Decimal() decimal.Decimal {
	if m.Amount == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// AmazonOrderItem is one SP-API order line item
type AmazonOrderItem struct {
	ASIN            string      `json:"ASIN"`
	SellerSKU       string      `json:"SellerSKU"`
	Title           string      `json:"Title"`
	QuantityOrdered int         `json:"QuantityOrdered"`
	ItemPrice       AmazonMoney `json:"ItemPrice"`
	ItemTax         AmazonMoney `json:"ItemTax"`
	ShippingPrice   AmazonMoney `json:"ShippingPrice"`
}

// AmazonAddress is the SP-API shipping address shape
type AmazonAddress struct {
	Name          string `json:"Name"`
	AddressLine1  string `json:"AddressLine1"`
	AddressLine2  string `json:"AddressLine2"`
	City          string `json:"City"`
	StateOrRegion string `json:"StateOrRegion"`
	PostalCode    string `json:"PostalCode"`
	CountryCode   string `json:"CountryCode"`
}

// AmazonOrder is the raw shape of one SP-API order, with the secondary item
// and address detail attached when those calls succeed
type AmazonOrder struct {
	AmazonOrderID      string      `json:"AmazonOrderId"`
	OrderStatus        string      `json:"OrderStatus"`
	PurchaseDate       string      `json:"PurchaseDate"`
	LastUpdateDate     string      `json:"LastUpdateDate"`
	FulfillmentChannel string      `json:"FulfillmentChannel"`
	OrderTotal         AmazonMoney `json:"OrderTotal"`
	BuyerInfo          struct {
		BuyerEmail string `json:"BuyerEmail"`
		BuyerName  string `json:"BuyerName"`
	} `json:"BuyerInfo"`

	// Filled by secondary calls; nil/empty when detail fetch failed
	Items           []AmazonOrderItem `json:"-"`
	ShippingAddress *AmazonAddress    `json:"-"`
	DetailPartial   bool              `json:"-"`
}

// Platform returns the platform code of the raw order
func (o *AmazonOrder) Platform() string { return PlatformAmazon }

// OrderID returns the platform order identifier
func (o *AmazonOrder) OrderID() string { return o.AmazonOrderID }

type amazonOrdersResponse struct {
	Payload struct {
		Orders    []AmazonOrder `json:"Orders"`
		NextToken string        `json:"NextToken"`
	} `json:"payload"`
}

type amazonOrderItemsResponse struct {
	Payload struct {
		OrderItems []AmazonOrderItem `json:"OrderItems"`
	} `json:"payload"`
}

type amazonAddressResponse struct {
	Payload struct {
		ShippingAddress *AmazonAddress `json:"ShippingAddress"`
	} `json:"payload"`
}

// FetchOrdersSince pulls all orders created after the given time, following
// NextToken pagination, then attaches item and address detail per order
func (a *AmazonAdapter) FetchOrdersSince(ctx context.Context, since time.Time) ([]RawOrder, error) {
	orders := make([]AmazonOrder, 0)
	nextToken := ""

	for {
		query := url.Values{}
		if nextToken != "" {
			query.Set("NextToken", nextToken)
		} else {
			query.Set("MarketplaceIds", a.cfg.MarketplaceID)
			query.Set("CreatedAfter", since.UTC().Format(time.RFC3339))
		}

		body, err := a.doSignedGet(ctx, "/orders/v0/orders", query)
		if err != nil {
			return nil, err
		}

		var resp amazonOrdersResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, errors.Wrap(ErrInvalidResponse, err.Error())
		}

		orders = append(orders, resp.Payload.Orders...)
		nextToken = resp.Payload.NextToken
		if nextToken == "" {
			break
		}
	}

	raws := make([]RawOrder, 0, len(orders))
	for i := range orders {
		order := orders[i]
		a.attachDetail(ctx, &order)
		raws = append(raws, &order)
	}

	log.Debug().Int("count", len(raws)).Time("since", since).Msg("Fetched Amazon orders")
	return raws, nil
}

// attachDetail makes the per-order item and address calls. Failures are
// logged and leave the order marked partial; they never fail the batch.
func (a *AmazonAdapter) attachDetail(ctx context.Context, order *AmazonOrder) {
	itemsBody, err := a.doSignedGet(ctx, fmt.Sprintf("/orders/v0/orders/%s/orderItems", order.AmazonOrderID), url.Values{})
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.AmazonOrderID).Msg("Failed to fetch Amazon order items, continuing with partial data")
		order.DetailPartial = true
	} else {
		var itemsResp amazonOrderItemsResponse
		if err := json.Unmarshal(itemsBody, &itemsResp); err != nil {
			log.Warn().Err(err).Str("order_id", order.AmazonOrderID).Msg("Failed to parse Amazon order items, continuing with partial data")
			order.DetailPartial = true
		} else {
			order.Items = itemsResp.Payload.OrderItems
		}
	}

	addressBody, err := a.doSignedGet(ctx, fmt.Sprintf("/orders/v0/orders/%s/address", order.AmazonOrderID), url.Values{})
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.AmazonOrderID).Msg("Failed to fetch Amazon order address, continuing with partial data")
		order.DetailPartial = true
		return
	}
	var addressResp amazonAddressResponse
	if err := json.Unmarshal(addressBody, &addressResp); err != nil {
		log.Warn().Err(err).Str("order_id", order.AmazonOrderID).Msg("Failed to parse Amazon order address, continuing with partial data")
		order.DetailPartial = true
		return
	}
	order.ShippingAddress = addressResp.Payload.ShippingAddress
}

// doSignedGet performs a GET against the SP-API endpoint with both the LWA
// bearer token and the SigV4 Authorization header attached
func (a *AmazonAdapter) doSignedGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	cred, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(a.cfg.Endpoint, "/") + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SP-API request")
	}
	req.Header.Set("x-amz-access-token", cred.AccessToken)
	signV4(req, a.cfg.AccessKeyID, a.cfg.SecretKey, a.cfg.Region, emptyPayloadHash, a.now())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "SP-API request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read SP-API response")
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.Wrapf(ErrAuthFailed, "SP-API returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Wrapf(ErrRequestFailed, "SP-API returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}

type lwaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// bearerToken returns a valid LWA access token, refreshing through the
// Login-With-Amazon token endpoint when the cached one is within a minute
// of expiry
func (a *AmazonAdapter) bearerToken(ctx context.Context) (Credential, error) {
	cred, ok, err := a.creds.Load(ctx, PlatformAmazon)
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to load Amazon credential")
	}
	if ok && !cred.Stale(a.now()) {
		return cred, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.cfg.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to create LWA token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credential{}, errors.Wrap(err, "LWA token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Credential{}, errors.Wrap(err, "failed to read LWA token response")
	}
	if resp.StatusCode >= 400 {
		return Credential{}, errors.Wrapf(ErrAuthFailed, "LWA token endpoint returned HTTP %d", resp.StatusCode)
	}

	var token lwaTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return Credential{}, errors.Wrap(ErrInvalidResponse, err.Error())
	}

	refreshed := Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: a.cfg.RefreshToken,
		ExpiresAt:    a.now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}
	if err := a.creds.Save(ctx, PlatformAmazon, refreshed); err != nil {
		log.Warn().Err(err).Msg("Failed to persist refreshed Amazon credential")
	}

	log.Info().Msg("Refreshed Amazon LWA access token")
	return refreshed, nil
}

// Normalize maps an SP-API order into the canonical order shape
func (a *AmazonAdapter) Normalize(raw RawOrder) (*models.Order, error) {
	spOrder, ok := raw.(*AmazonOrder)
	if !ok {
		return nil, ErrWrongRawOrder
	}
	if spOrder.AmazonOrderID == "" {
		return nil, errors.Wrap(ErrInvalidResponse, "amazon order missing AmazonOrderId")
	}

	order := &models.Order{
		Platform:           PlatformAmazon,
		PlatformOrderID:    spOrder.AmazonOrderID,
		OrderNumber:        spOrder.AmazonOrderID,
		Status:             mapAmazonStatus(spOrder.OrderStatus),
		CustomerName:       spOrder.BuyerInfo.BuyerName,
		CustomerEmail:      spOrder.BuyerInfo.BuyerEmail,
		Total:              spOrder.OrderTotal.Decimal(),
		Currency:           spOrder.OrderTotal.CurrencyCode,
		FulfillmentChannel: mapAmazonFulfillmentChannel(spOrder.FulfillmentChannel),
	}

	if t, err := time.Parse(time.RFC3339, spOrder.PurchaseDate); err == nil {
		order.PlatformCreatedAt = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, spOrder.LastUpdateDate); err == nil {
		updated := t.UTC()
		order.PlatformUpdatedAt = &updated
	}

	if addr := spOrder.ShippingAddress; addr != nil {
		order.ShipToName = addr.Name
		order.ShipToLine1 = addr.AddressLine1
		order.ShipToLine2 = addr.AddressLine2
		order.ShipToCity = addr.City
		order.ShipToState = addr.StateOrRegion
		order.ShipToZip = addr.PostalCode
		order.ShipToCountry = addr.CountryCode
	}

	subtotal := decimal.Zero
	shipping := decimal.Zero
	tax := decimal.Zero
	for _, item := range spOrder.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: item.ASIN,
			Title:     item.Title,
			SKU:       item.SellerSKU,
			Quantity:  item.QuantityOrdered,
			UnitPrice: unitPrice(item),
		})
		subtotal = subtotal.Add(item.ItemPrice.Decimal())
		shipping = shipping.Add(item.ShippingPrice.Decimal())
		tax = tax.Add(item.ItemTax.Decimal())
	}
	if len(spOrder.Items) > 0 {
		order.Subtotal = subtotal
		order.ShippingCost = shipping
		order.Tax = tax
	}

	return order, nil
}

// unitPrice derives the per-unit price from the line total
func unitPrice(item AmazonOrderItem) decimal.Decimal {
	price := item.ItemPrice.Decimal()
	if item.QuantityOrdered > 1 {
		return price.Div(decimal.NewFromInt(int64(item.QuantityOrdered)))
	}
	return price
}

// mapAmazonStatus maps SP-API order statuses into canonical order statuses.
// The mapping is total: unrecognized values fall back to unknown.
func mapAmazonStatus(status string) models.OrderStatus {
	switch status {
	case "Pending", "PendingAvailability":
		return models.OrderStatusPending
	case "Unshipped", "PartiallyShipped":
		return models.OrderStatusPaid
	case "Shipped":
		return models.OrderStatusShipped
	case "InvoiceUnconfirmed":
		return models.OrderStatusShipped
	case "Canceled":
		return models.OrderStatusCancelled
	case "Unfulfillable":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusUnknown
	}
}

// mapAmazonFulfillmentChannel maps AFN/MFN into merchant- vs platform-fulfilled
func mapAmazonFulfillmentChannel(channel string) string {
	switch channel {
	case "AFN":
		return "platform"
	case "MFN":
		return "merchant"
	default:
		return "merchant"
	}
}

// Ensure AmazonAdapter implements the Adapter interface
var _ Adapter = (*AmazonAdapter)(nil)
