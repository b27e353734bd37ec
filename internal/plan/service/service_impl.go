package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	"github.com/pedifacil/billing/pkg/db/option"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Store repository.Repository[plandomain.Plan]
}

type Service struct {
	log   *zap.Logger
	store repository.Repository[plandomain.Plan]
}

func NewService(p Params) plandomain.Service {
	return &Service{
		log:   p.Log.Named("plan.service"),
		store: p.Store,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.store.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*plandomain.Plan, error) {
	return s.store.Find(ctx, &plandomain.Plan{IsActive: true},
		option.WithOrderBy("price ASC"),
	)
}
