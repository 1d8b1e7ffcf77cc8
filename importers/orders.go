package importers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aluiziolira/go-catalog-migrator/client"
	"github.com/aluiziolira/go-catalog-migrator/models"
	"github.com/aluiziolira/go-catalog-migrator/parser"
	"github.com/aluiziolira/go-catalog-migrator/pipeline"
	"github.com/aluiziolira/go-catalog-migrator/store"
)

var (
	contractStatus = map[string]string{
		"pending":    "Not Ready",
		"processing": "Confirmed",
		"on-hold":    "Not Ready",
		"completed":  "Finished",
		"cancelled":  "Cancelled",
		"refunded":   "Cancelled",
		"failed":     "Failed",
	}
	transactionStatus = map[string]string{
		"pending":    "Pending",
		"processing": "Success",
		"on-hold":    "Pending",
		"completed":  "Success",
		"cancelled":  "Failed",
		"refunded":   "Failed",
		"failed":     "Failed",
	}
	paymentType = map[string]string{
		"bacs":   "Manual",
		"cheque": "Cheque",
		"cod":    "Manual",
		"paypal": "Gateway",
		"stripe": "Gateway",
	}
)

func lookup(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// OrderStrategy imports orders with their line items, contract and payment
// transaction. Customers are linked to imported users, or to a guest user
// keyed by billing phone.
type OrderStrategy struct {
	deps Deps

	mu     sync.Mutex
	guests map[string]int
}

// NewOrderStrategy builds the order strategy.
func NewOrderStrategy(deps Deps) *OrderStrategy {
	return &OrderStrategy{deps: deps, guests: make(map[string]int)}
}

func (s *OrderStrategy) Entity() string { return Orders }

func (s *OrderStrategy) ExternalID(o models.Order) string { return parser.ExternalID(o.ID) }

func (s *OrderStrategy) Fetch(ctx context.Context, page, perPage int) (client.Page[models.Order], error) {
	return s.deps.Commerce.Orders(ctx, page, perPage)
}

// Prepare forgets guest users resolved earlier in the run.
func (s *OrderStrategy) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.guests)
	return nil
}

func (s *OrderStrategy) Process(ctx context.Context, o models.Order, existing *store.Record, dryRun bool) (pipeline.Result, error) {
	cfg := s.deps.Config.Import
	id := parser.ExternalID(o.ID)
	date := isoDate(o.DateCreated)
	meta := map[string]any{"status": o.Status, "total": float64(o.Total), "currency": o.Currency, "date": date}

	found, exists, err := s.deps.Destination.FindOne(ctx, collOrders, "external_id", id)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("find order: %w", err)
	}
	skipped := pipeline.Result{Outcome: pipeline.Skipped, InternalID: found.ID, Metadata: meta, Reason: "exists in destination"}

	if dryRun {
		if exists {
			return skipped, nil
		}
		slog.Info("dry run: would import order", slog.Int("id", o.ID), slog.String("status", o.Status))
		return pipeline.Result{Outcome: pipeline.Created, Metadata: meta}, nil
	}

	userID := s.customer(ctx, o)

	// An order left without mapping by an earlier failed run still needs its
	// lines and contract; both are keyed by external id.
	if exists {
		s.createItems(ctx, found.ID, o)
		if err := s.createContract(ctx, found.ID, userID, o); err != nil {
			return pipeline.Result{}, err
		}
		return skipped, nil
	}

	order := map[string]any{
		"Date":            date,
		"Status":          lookup(cfg.OrderStatus, o.Status, cfg.DefaultOrderStatus),
		"Type":            cfg.OrderType,
		"ShippingCost":    parser.ConvertPrice(float64(o.ShippingTotal), cfg.PriceMultiplier),
		"Description":     strings.TrimSpace(o.CustomerNote),
		"Note":            fmt.Sprintf("WooCommerce Order #%d", o.ID),
		"external_id":     id,
		"external_source": sourceCommerce,
	}
	if userID > 0 {
		order["user"] = userID
	}

	entry, err := s.deps.Destination.Create(ctx, collOrders, order)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("create order: %w", err)
	}

	s.createItems(ctx, entry.ID, o)
	if err := s.createContract(ctx, entry.ID, userID, o); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Outcome: pipeline.Created, InternalID: entry.ID, Metadata: meta}, nil
}

// customer returns the destination user for o, or 0. Registered customers
// resolve through the user mappings; everyone else becomes a guest user.
func (s *OrderStrategy) customer(ctx context.Context, o models.Order) int {
	if userID, ok := s.deps.mappedID(Users, o.CustomerID); ok {
		return userID
	}
	phone := parser.FormatPhone(o.Billing.Phone, s.deps.Config.Import.PhoneCountryCode)
	if phone == "" {
		return 0
	}

	s.mu.Lock()
	id, ok := s.guests[phone]
	s.mu.Unlock()
	if ok {
		return id
	}

	key := "guest_" + phone
	if rec, ok := s.deps.Mappings.Get(GuestUsers, key); ok && rec.InternalID > 0 {
		s.remember(phone, rec.InternalID)
		return rec.InternalID
	}

	entry, created, err := s.deps.Destination.FindOrCreate(ctx, collLocalUsers,
		[]client.Key{{Field: "external_id", Value: key}}, map[string]any{
			"Phone":           phone,
			"IsActive":        false,
			"IsVerified":      false,
			"external_id":     key,
			"external_source": sourceCommerceGuest,
		})
	if err != nil {
		slog.Warn("guest user not created, order left unlinked",
			slog.Int("order", o.ID),
			slog.Any("error", err),
		)
		return 0
	}

	if created && (o.Billing.FirstName != "" || o.Billing.LastName != "") {
		info := map[string]any{
			"FirstName": parser.DecodeText(o.Billing.FirstName),
			"LastName":  parser.DecodeText(o.Billing.LastName),
			"user":      entry.ID,
		}
		if _, err := s.deps.Destination.Create(ctx, collUserInfos, info); err != nil {
			slog.Warn("guest user info not created", slog.Int("user", entry.ID), slog.Any("error", err))
		}
	}
	if err := s.deps.Mappings.Record(GuestUsers, key, entry.ID, map[string]any{"phone": phone}); err != nil {
		slog.Warn("guest mapping not recorded", slog.String("key", key), slog.Any("error", err))
	}
	s.remember(phone, entry.ID)
	return entry.ID
}

func (s *OrderStrategy) remember(phone string, id int) {
	s.mu.Lock()
	s.guests[phone] = id
	s.mu.Unlock()
}

// createItems adds the order lines. A failed line is logged and skipped.
func (s *OrderStrategy) createItems(ctx context.Context, orderID int, o models.Order) {
	multiplier := s.deps.Config.Import.PriceMultiplier
	for _, line := range o.LineItems {
		key := parser.ScopedID("line_item", line.ID)
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			sku = fmt.Sprintf("WC-%d", line.ProductID)
		}
		item := map[string]any{
			"Count":           line.Quantity,
			"PerAmount":       parser.ConvertPrice(float64(line.Price), multiplier),
			"ProductSKU":      sku,
			"ProductTitle":    parser.DecodeText(line.Name),
			"order":           orderID,
			"external_id":     key,
			"external_source": sourceCommerce,
		}
		if variationID, ok := s.deps.mappedID(Variations, line.VariationID); ok {
			item["product_variation"] = variationID
		}
		if _, _, err := s.deps.Destination.FindOrCreate(ctx, collOrderItems,
			[]client.Key{{Field: "external_id", Value: key}}, item); err != nil {
			slog.Error("order item not created",
				slog.Int("order", o.ID),
				slog.Int("line", line.ID),
				slog.Any("error", err),
			)
		}
	}
}

func (s *OrderStrategy) createContract(ctx context.Context, orderID, userID int, o models.Order) error {
	cfg := s.deps.Config.Import
	date := isoDate(o.DateCreated)
	key := parser.ScopedID("contract", o.ID)
	contract := map[string]any{
		"Amount":          parser.ConvertPrice(float64(o.Total), cfg.PriceMultiplier),
		"Date":            date,
		"Type":            cfg.ContractType,
		"Status":          lookup(contractStatus, o.Status, "Not Ready"),
		"TaxPercent":      cfg.TaxPercent,
		"order":           orderID,
		"external_id":     key,
		"external_source": sourceCommerce,
	}
	if userID > 0 {
		contract["local_user"] = userID
	}
	entry, _, err := s.deps.Destination.FindOrCreate(ctx, collContracts,
		[]client.Key{{Field: "external_id", Value: key}}, contract)
	if err != nil {
		return fmt.Errorf("create contract: %w", err)
	}

	if o.PaymentMethod == "" || o.Status == "pending" {
		return nil
	}
	trackID := o.TransactionID
	if trackID == "" {
		trackID = o.OrderKey
	}
	txKey := parser.ScopedID("transaction", o.ID)
	transaction := map[string]any{
		"Amount":          parser.ConvertPrice(float64(o.Total), cfg.PriceMultiplier),
		"Type":            lookup(paymentType, o.PaymentMethod, "Gateway"),
		"Status":          lookup(transactionStatus, o.Status, "Pending"),
		"Step":            1,
		"Date":            date,
		"DiscountAmount":  parser.ConvertPrice(float64(o.DiscountTotal), cfg.PriceMultiplier),
		"TrackId":         trackID,
		"contract":        entry.ID,
		"external_id":     txKey,
		"external_source": sourceCommerce,
	}
	if _, _, err := s.deps.Destination.FindOrCreate(ctx, collTransactions,
		[]client.Key{{Field: "external_id", Value: txKey}}, transaction); err != nil {
		slog.Error("contract transaction not created",
			slog.Int("order", o.ID),
			slog.Any("error", err),
		)
	}
	return nil
}
