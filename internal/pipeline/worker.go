package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"github.com/dvloznov/statement-categorizer/internal/ratelimit"
	"github.com/dvloznov/statement-categorizer/internal/taxonomy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TextModel is the categorization language model.
type TextModel interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Categorizer sends extraction units to the language model.
type Categorizer struct {
	model     TextModel
	tax       *taxonomy.Taxonomy
	validator *taxonomy.CategoryValidator
	limiter   *ratelimit.Limiter
	log       zerolog.Logger
}

// NewCategorizer creates a Categorizer. limiter may be nil.
func NewCategorizer(model TextModel, tax *taxonomy.Taxonomy, limiter *ratelimit.Limiter, log zerolog.Logger) *Categorizer {
	return &Categorizer{
		model:     model,
		tax:       tax,
		validator: taxonomy.NewCategoryValidator(tax),
		limiter:   limiter,
		log:       log,
	}
}

// CategorizeAll categorizes units concurrently, at most maxConcurrency at a
// time. Results are indexed like units regardless of completion order, and a
// failing unit never affects its siblings.
func (c *Categorizer) CategorizeAll(ctx context.Context, units []domain.ExtractionUnit, label func(domain.ExtractionUnit) string, maxConcurrency int) []domain.UnitResult {
	results := make([]domain.UnitResult, len(units))

	var g errgroup.Group
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, u := range units {
		g.Go(func() error {
			results[i] = c.Categorize(ctx, u, label(u))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Categorize runs one model call for unit. Failures, panics included, are
// reported in the returned UnitResult, never as an error.
func (c *Categorizer) Categorize(ctx context.Context, unit domain.ExtractionUnit, label string) (res domain.UnitResult) {
	log := logger.FromContextOr(ctx, c.log).With().Int("unit", unit.Index).Str("origin", string(unit.Origin)).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("categorization panicked")
			res = unitFailure(unit, fmt.Errorf("panic: %v", r))
		}
	}()

	res, err := c.categorize(ctx, unit, label)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("categorization failed")
		return unitFailure(unit, err)
	}

	for _, tx := range res.Transactions {
		if verr := c.validator.ValidateCategory(tx.Category, tx.Subcategory); verr != nil {
			log.Debug().Err(verr).Str("description", tx.Description).Msg("category outside taxonomy")
		}
	}
	log.Info().
		Bool("success", res.Success).
		Int("transactions", len(res.Transactions)).
		Dur("duration", time.Since(start)).
		Msg("unit categorized")
	return res
}

func unitFailure(unit domain.ExtractionUnit, err error) domain.UnitResult {
	return domain.UnitResult{
		Success:      false,
		Transactions: []domain.Transaction{},
		ErrorMessage: fmt.Errorf("%w: unit %d: %v", domain.ErrUnitProcessing, unit.Index, err).Error(),
	}
}

func (c *Categorizer) categorize(ctx context.Context, unit domain.ExtractionUnit, label string) (domain.UnitResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.UnitResult{}, fmt.Errorf("categorize: waiting for rate limiter: %w", err)
	}

	raw, err := c.model.GenerateJSON(ctx, taxonomy.SystemPrompt, taxonomy.UserPrompt(c.tax, label, unit.Text))
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("categorize: calling model: %w", err)
	}

	res, err := parseUnitResult(raw)
	if err != nil {
		return domain.UnitResult{}, fmt.Errorf("categorize: %w", err)
	}
	return res, nil
}
