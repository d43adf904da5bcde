package mocks

import (
	"context"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// Mock NarrativeEngine
type NarrativeEngine struct {
	mock.Mock
}

var _ interfaces.NarrativeEngine = (*NarrativeEngine)(nil)

func (m *NarrativeEngine) GetCurrentFragment(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.FragmentView, error) {
	args := m.Called(ctx, tx, userID)
	view, _ := args.Get(0).(*models.FragmentView)
	return view, args.Error(1)
}

func (m *NarrativeEngine) MakeChoice(ctx context.Context, tx interfaces.DBTX, userID int64, choiceID string) (*models.ChoiceResult, error) {
	args := m.Called(ctx, tx, userID, choiceID)
	res, _ := args.Get(0).(*models.ChoiceResult)
	return res, args.Error(1)
}

func (m *NarrativeEngine) GetProgress(ctx context.Context, tx interfaces.DBTX, userID int64) (float64, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *NarrativeEngine) Reset(ctx context.Context, tx interfaces.DBTX, userID int64) (*models.UserNarrativeState, error) {
	args := m.Called(ctx, tx, userID)
	st, _ := args.Get(0).(*models.UserNarrativeState)
	return st, args.Error(1)
}

func (m *NarrativeEngine) AddItem(ctx context.Context, tx interfaces.DBTX, userID int64, itemKey string, qty int) (*models.UserNarrativeState, error) {
	args := m.Called(ctx, tx, userID, itemKey, qty)
	st, _ := args.Get(0).(*models.UserNarrativeState)
	return st, args.Error(1)
}

func (m *NarrativeEngine) GetInventory(ctx context.Context, tx interfaces.DBTX, userID int64) (map[string]int, error) {
	args := m.Called(ctx, tx, userID)
	items, _ := args.Get(0).(map[string]int)
	return items, args.Error(1)
}

func (m *NarrativeEngine) SetVariable(ctx context.Context, tx interfaces.DBTX, userID int64, name string, value any) error {
	args := m.Called(ctx, tx, userID, name, value)
	return args.Error(0)
}
