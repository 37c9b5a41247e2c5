package broker

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	apperrors "alpaca-broker/internal/errors"
	"alpaca-broker/internal/models"
	"alpaca-broker/internal/security"
	"alpaca-broker/internal/transport"
)

// AccountClient reads account state: balance, positions, paginated
// activity, and asset metadata.
type AccountClient struct {
	dispatch  *dispatcher
	validator *security.InputValidator
	logger    zerolog.Logger
}

func newAccountClient(d *dispatcher, validator *security.InputValidator, logger zerolog.Logger) *AccountClient {
	return &AccountClient{
		dispatch:  d,
		validator: validator,
		logger:    logger,
	}
}

// GetBalance fetches the account snapshot.
func (ac *AccountClient) GetBalance(ctx context.Context) (*models.Balance, error) {
	resp, err := ac.dispatch.call(ctx, "account_balance", transport.Request{
		Method: http.MethodGet,
		Path:   endpointAccount,
	})
	if err != nil {
		return nil, err
	}

	var balance models.Balance
	if err := resp.Decode(&balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetPositions fetches all open positions. The venue returns the full
// snapshot in one response.
func (ac *AccountClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	resp, err := ac.dispatch.call(ctx, "account_positions", transport.Request{
		Method: http.MethodGet,
		Path:   endpointPositions,
	})
	if err != nil {
		return nil, err
	}

	var positions []models.Position
	if err := resp.Decode(&positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetTransactions fetches one page of account activity. An empty cursor
// starts from the newest entries; the returned cursor is empty once the
// venue has no further page. Page size is the venue batch maximum.
func (ac *AccountClient) GetTransactions(ctx context.Context, cursor string) (models.TransactionPage, error) {
	resp, err := ac.dispatch.call(ctx, "account_activity", transport.Request{
		Method: http.MethodGet,
		Path:   endpointActivities,
		Query:  activitiesQuery{PageSize: activityBatchMax, PageToken: cursor},
	})
	if err != nil {
		return models.TransactionPage{}, err
	}

	var resources []activityResource
	if err := resp.Decode(&resources); err != nil {
		return models.TransactionPage{}, err
	}

	items := make([]models.Transaction, len(resources))
	for i, r := range resources {
		items[i] = r.toTransaction()
	}

	// A full page may have more behind it; the venue's cursor is the id
	// of the last entry seen
	next := ""
	if len(items) == activityBatchMax {
		next = items[len(items)-1].ID
	}

	return models.TransactionPage{Items: items, Cursor: next}, nil
}

// GetAssetInfo fetches metadata for a symbol.
func (ac *AccountClient) GetAssetInfo(ctx context.Context, symbol string) (*models.AssetInfo, error) {
	if err := ac.validator.ValidateSymbol(symbol); err != nil {
		return nil, apperrors.NewValidationError("symbol", symbol, err.Error())
	}

	resp, err := ac.dispatch.call(ctx, "asset_info", transport.Request{
		Method: http.MethodGet,
		Path:   assetPath(symbol),
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, apperrors.NewNotFoundError("asset", symbol)
		}
		return nil, err
	}

	var asset models.AssetInfo
	if err := resp.Decode(&asset); err != nil {
		return nil, err
	}
	return &asset, nil
}
