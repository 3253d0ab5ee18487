package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/money"
	"github.com/uzmarket/marketplace-core/internal/pkg/retry"
)

type groupKey struct {
	promoterID uuid.UUID
	productID  string
}

// candidate collects the eligible items of one (promoter, product) pair.
type candidate struct {
	key      groupKey
	subtotal decimal.Decimal
	link     *Link
	campaign *Campaign
	click    *ClickEvent
}

func validateOrder(o Order) error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	if o.PlacedAt.IsZero() {
		return fmt.Errorf("%w: placed_at is required", ErrInvalidOrder)
	}
	for i, it := range o.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product", ErrInvalidOrder, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, i)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: item %d price must not be negative", ErrInvalidOrder, i)
		}
	}
	return nil
}

// Attribute credits an order to the promoters whose clicks led to it, last click
// wins per (promoter, product). Repeating the call for an order returns the
// entries written the first time.
func (s *Service) Attribute(ctx context.Context, order Order) (*Attribution, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	return retry.Do(ctx, s.cfg.Retry, "affiliate.attribute", func(ctx context.Context) (*Attribution, error) {
		return s.attributeOnce(ctx, order)
	})
}

func (s *Service) attributeOnce(ctx context.Context, order Order) (*Attribution, error) {
	existing, err := s.ledger.ForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &Attribution{Outcome: Attributed, OrderID: order.ID, Transactions: existing, Replayed: true}, nil
	}

	none := &Attribution{Outcome: NoAttribution, OrderID: order.ID, Transactions: []*commission.Transaction{}}

	fp := s.hasher.Hash(order.VisitorFingerprint)
	if fp == "" {
		return none, nil
	}

	groups, err := s.collectCandidates(ctx, order, fp)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return none, nil
	}

	entries, charges := s.buildEntries(order, groups)
	if len(entries) == 0 {
		return none, nil
	}

	if err := s.ledger.Record(ctx, entries, charges); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("order_id", order.ID).
		Int("transactions", len(entries)).
		Msg("order attributed")
	return &Attribution{Outcome: Attributed, OrderID: order.ID, Transactions: entries}, nil
}

func (s *Service) collectCandidates(ctx context.Context, order Order, fp string) ([]*candidate, error) {
	links := map[string]*Link{}
	campaigns := map[uuid.UUID]*Campaign{}
	clicks := map[uuid.UUID]*ClickEvent{}
	byKey := map[groupKey]*candidate{}
	var ordered []*candidate

	for _, item := range order.Items {
		code := strings.TrimSpace(item.AffiliateCode)
		if code == "" {
			code = strings.TrimSpace(order.AffiliateCode)
		}
		if code == "" {
			continue
		}

		link, seen := links[code]
		if !seen {
			l, err := s.repo.GetLinkByCode(ctx, code)
			if err != nil && !errors.Is(err, ErrLinkNotFound) {
				return nil, err
			}
			link = l
			links[code] = l
		}
		if link == nil || link.ProductID != item.ProductID {
			continue
		}

		var campaign *Campaign
		if link.CampaignID.Valid {
			c, ok := campaigns[link.CampaignID.UUID]
			if !ok {
				var err error
				c, err = s.repo.GetCampaign(ctx, link.CampaignID.UUID)
				if err != nil {
					return nil, err
				}
				campaigns[c.ID] = c
			}
			campaign = c
		}

		click, ok := clicks[link.ID]
		if !ok {
			from, to, open := s.window(order.PlacedAt, campaign)
			if open {
				var err error
				click, err = s.repo.LatestClick(ctx, link.ID, fp, from, to)
				if err != nil {
					return nil, err
				}
			}
			clicks[link.ID] = click
		}
		if click == nil {
			continue
		}

		key := groupKey{promoterID: link.PromoterID, productID: item.ProductID}
		g, ok := byKey[key]
		if !ok {
			g = &candidate{key: key, subtotal: decimal.Zero}
			byKey[key] = g
			ordered = append(ordered, g)
		}
		g.subtotal = g.subtotal.Add(money.LineTotal(item.Price, item.Quantity))
		if g.click == nil || click.ClickedAt.After(g.click.ClickedAt) {
			g.link, g.campaign, g.click = link, campaign, click
		}
	}
	return ordered, nil
}

// window is the span of clicks that may be credited for an order placed at placedAt.
// Clicks before the campaign start or after its end never count.
func (s *Service) window(placedAt time.Time, c *Campaign) (from, to time.Time, open bool) {
	to = placedAt
	from = placedAt.Add(-c.Lookback(s.cfg.lookback()))
	if c != nil {
		if c.StartDate.After(from) {
			from = c.StartDate
		}
		if c.EndDate != nil && c.EndDate.Before(to) {
			to = *c.EndDate
		}
	}
	return from, to, !to.Before(from)
}

// buildEntries rounds each group subtotal once and caps it at the remaining campaign budget.
func (s *Service) buildEntries(order Order, groups []*candidate) ([]*commission.Transaction, []commission.BudgetCharge) {
	now := s.now().UTC()
	charged := map[uuid.UUID]decimal.Decimal{}
	var chargeOrder []uuid.UUID
	var entries []*commission.Transaction

	for _, g := range groups {
		amount := money.Round(money.PercentOf(g.subtotal, g.link.CommissionRate), s.cfg.MinorUnits)

		if remaining, budgeted := g.campaign.Remaining(); budgeted {
			remaining = remaining.Sub(charged[g.campaign.ID])
			if !remaining.IsPositive() {
				continue
			}
			amount = money.Min(amount, remaining)
			if _, ok := charged[g.campaign.ID]; !ok {
				chargeOrder = append(chargeOrder, g.campaign.ID)
			}
			charged[g.campaign.ID] = charged[g.campaign.ID].Add(amount)
		}

		entries = append(entries, &commission.Transaction{
			ID:               uuid.New(),
			PromoterID:       g.key.promoterID,
			OrderID:          order.ID,
			ProductID:        g.key.productID,
			LinkID:           g.link.ID,
			ClickID:          g.click.ID,
			CampaignID:       g.link.CampaignID,
			CommissionAmount: amount,
			Status:           commission.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	charges := make([]commission.BudgetCharge, 0, len(chargeOrder))
	for _, id := range chargeOrder {
		charges = append(charges, commission.BudgetCharge{CampaignID: id, Amount: charged[id]})
	}
	return entries, charges
}
