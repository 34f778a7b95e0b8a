package firestore

import (
	"context"
	"errors"

	domain "github.com/odera-store/api/internal/domain"
	pfirestore "github.com/odera-store/api/internal/platform/firestore"
	"github.com/odera-store/api/internal/repositories"
)

// SettingsRepository loads settings/store, the storefront's operator configuration.
type SettingsRepository struct {
	settings *pfirestore.Collection[settingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		settings: pfirestore.NewCollection[settingsDocument](provider, settingsCollection),
	}, nil
}

// Store returns the settings; a missing document yields zero settings so callers fall back to defaults.
func (r *SettingsRepository) Store(ctx context.Context) (domain.StoreSettings, error) {
	doc, err := r.settings.Get(ctx, storeSettingsDocID)
	if err != nil {
		if isNotFound(err) {
			return domain.StoreSettings{}, nil
		}
		return domain.StoreSettings{}, err
	}

	var settings domain.StoreSettings
	if delivery := doc.Data.Delivery; delivery != nil {
		if delivery.Cost != nil {
			cost := domain.CentsFromSoles(*delivery.Cost)
			settings.DeliveryCost = &cost
		}
		settings.DeliveryDistricts = append([]string(nil), delivery.Districts...)
	}
	return settings, nil
}
