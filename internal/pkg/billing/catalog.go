package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/MemberVault/app/models"
	"github.com/ManuelReschke/MemberVault/internal/pkg/metrics"
)

// SyncCatalog mirrors the provider's active products and prices. Unless
// force is set, the call is skipped while the sync window is still fresh.
// Previously active rows are deactivated first so provider-side removals
// propagate; each product is written before its prices.
func (s *Service) SyncCatalog(ctx context.Context, force bool) error {
	if !force && !s.window.Due(ctx) {
		log.Debugf("[Billing] catalog sync skipped, window still fresh")
		metrics.CatalogSyncsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "billing.SyncCatalog")
	defer span.End()
	span.SetAttributes(attribute.Bool("billing.force", force))

	products, prices, err := s.fetchCatalog(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch catalog")
		metrics.CatalogSyncsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("fetch catalog: %w", err)
	}

	if err := s.writeCatalog(ctx, products, prices); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write catalog")
		metrics.CatalogSyncsTotal.WithLabelValues("failed").Inc()
		return err
	}

	s.window.MarkSynced(ctx)
	metrics.CatalogSyncsTotal.WithLabelValues("synced").Inc()
	span.SetAttributes(attribute.Int("billing.products", len(products)), attribute.Int("billing.prices", len(prices)))
	log.Infof("[Billing] catalog synced: %d products, %d prices", len(products), len(prices))
	return nil
}

// SyncCatalogBestEffort runs SyncCatalog and only logs failures. Callers keep
// serving whatever the local mirror holds.
func (s *Service) SyncCatalogBestEffort(ctx context.Context, force bool) {
	if err := s.SyncCatalog(ctx, force); err != nil {
		log.Errorf("[Billing] catalog sync failed, serving cached catalog: %v", err)
	}
}

func (s *Service) fetchCatalog(ctx context.Context) ([]*stripe.Product, []*stripe.Price, error) {
	var (
		products []*stripe.Product
		prices   []*stripe.Price
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.provider.ListActiveProducts(gctx)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		prices, err = s.provider.ListActivePrices(gctx)
		if err != nil {
			return fmt.Errorf("list prices: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return products, prices, nil
}

func (s *Service) writeCatalog(ctx context.Context, products []*stripe.Product, prices []*stripe.Price) error {
	byProduct := make(map[string][]*stripe.Price, len(products))
	for _, p := range prices {
		if p == nil || p.Product == nil || p.Product.ID == "" {
			continue
		}
		byProduct[p.Product.ID] = append(byProduct[p.Product.ID], p)
	}

	if err := s.repo.DeactivateCatalog(ctx); err != nil {
		return fmt.Errorf("deactivate catalog: %w", err)
	}

	for _, sp := range products {
		if sp == nil || sp.ID == "" {
			continue
		}
		if err := s.repo.UpsertProduct(ctx, productFromStripe(sp)); err != nil {
			return fmt.Errorf("upsert product %s: %w", sp.ID, err)
		}
		for _, pr := range byProduct[sp.ID] {
			row := priceFromStripe(pr, sp.ID)
			err := retryOnForeignKey(ctx, "price "+pr.ID, s.cfg.PriceRetryCount, s.cfg.PriceRetryDelay, func() error {
				return s.repo.UpsertPrice(ctx, row)
			})
			if err != nil {
				return fmt.Errorf("upsert price %s: %w", pr.ID, err)
			}
		}
	}
	return nil
}

// ListActiveProducts returns active products by name, each with its active
// prices by ascending amount.
func (s *Service) ListActiveProducts(ctx context.Context) ([]models.Product, error) {
	return s.repo.ListActiveProducts(ctx)
}

// GetStripeProducts optionally refreshes the catalog, then reads it. Read
// failures yield an empty list.
func (s *Service) GetStripeProducts(ctx context.Context, autoSync bool) []models.Product {
	if autoSync {
		s.SyncCatalogBestEffort(ctx, false)
	}
	products, err := s.repo.ListActiveProducts(ctx)
	if err != nil {
		log.Errorf("[Billing] failed to read catalog: %v", err)
		return []models.Product{}
	}
	return products
}

// MembershipTiers projects the catalog into pricing tiers.
func (s *Service) MembershipTiers(ctx context.Context, autoSync bool) []Tier {
	products := s.GetStripeProducts(ctx, autoSync)
	tiers := make([]Tier, 0, len(products))
	for i := range products {
		p := &products[i]
		t := Tier{
			ID:          p.ID,
			Name:        strings.ReplaceAll(strings.ToLower(strings.Join(strings.Fields(p.Name), " ")), " ", "_"),
			DisplayName: ProductDisplayName(p),
			Description: p.Description,
			Currency:    "usd",
			Features:    ProductFeatures(p),
			Tokens:      p.TokenGrant(),
			IsActive:    p.Active,
			SortOrder:   i,
			Prices:      p.Prices,
		}
		if len(p.Prices) > 0 {
			first := p.Prices[0]
			if first.UnitAmount != nil {
				t.Price = *first.UnitAmount
			}
			if first.Currency != "" {
				t.Currency = first.Currency
			}
			t.Interval = first.Interval
			t.PriceID = first.ID
		}
		if t.Prices == nil {
			t.Prices = []models.Price{}
		}
		tiers = append(tiers, t)
	}
	return tiers
}

func productFromStripe(sp *stripe.Product) *models.Product {
	return &models.Product{
		ID:          sp.ID,
		Name:        sp.Name,
		Description: sp.Description,
		Active:      true,
		Metadata:    metadataMap(sp.Metadata),
	}
}

func priceFromStripe(sp *stripe.Price, productID string) *models.Price {
	row := &models.Price{
		ID:        sp.ID,
		ProductID: productID,
		Active:    true,
		Currency:  string(sp.Currency),
		Type:      string(sp.Type),
		Metadata:  metadataMap(sp.Metadata),
	}
	if sp.UnitAmount != 0 {
		amount := sp.UnitAmount
		row.UnitAmount = &amount
	}
	if sp.Recurring != nil {
		row.Interval = string(sp.Recurring.Interval)
		row.IntervalCount = sp.Recurring.IntervalCount
		row.TrialPeriodDays = sp.Recurring.TrialPeriodDays
	}
	return row
}

func metadataMap(in map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}
