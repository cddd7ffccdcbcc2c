package app

import (
	"context"
	"errors"
	"fmt"

	"reelmarket/internal/config"
	"reelmarket/internal/repo"
)

// DefaultMarketID names the market created when a workspace has neither a
// stored config nor a reelmarket.yml.
const DefaultMarketID = "default"

// ResolveMarketConfig picks the active market and ensures its config is stored,
// seeding it if missing. It prefers the override, then the single market in the
// DB, then the workspace config file, then built-in defaults.
func ResolveMarketConfig(ctx context.Context, workspace, marketOverride string, r repo.Repo) (string, *config.Config, error) {
	marketID := marketOverride
	if marketID == "" {
		id, err := r.SingleMarket(ctx)
		switch {
		case err == nil:
			marketID = id
		case errors.Is(err, repo.ErrNotFound):
		default:
			return "", nil, err
		}
	}

	if marketID != "" {
		cfg, err := r.GetMarketConfig(ctx, marketID)
		if err == nil {
			return marketID, cfg, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
	}

	seedCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load workspace config: %w", err)
	}
	if seedCfg == nil {
		id := marketID
		if id == "" {
			id = DefaultMarketID
		}
		seedCfg = config.Default(id)
	}
	if marketID == "" {
		marketID = seedCfg.Market.ID
	}
	if err := r.UpsertMarketConfig(ctx, marketID, seedCfg); err != nil {
		return "", nil, fmt.Errorf("seed market config: %w", err)
	}
	return marketID, seedCfg, nil
}
