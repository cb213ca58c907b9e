package tracking

import (
	"maps"

	"usage-telemetry/internal/domain"
)

// Recorder принимает события.
type Recorder interface {
	Record(eventType domain.EventType, category string, opts domain.EventOptions)
}

// API — публичный интерфейс захвата для UI.
type API struct {
	rec Recorder
}

// NewAPI создаёт API поверх очереди.
func NewAPI(rec Recorder) *API {
	return &API{rec: rec}
}

// Track записывает произвольное событие.
func (a *API) Track(eventType domain.EventType, category string, opts domain.EventOptions) {
	a.rec.Record(eventType, category, opts)
}

// TrackFeature записывает использование функции.
func (a *API) TrackFeature(feature, action string, metadata map[string]any) {
	a.rec.Record(domain.EventFeatureUse, domain.CategoryFeature, domain.EventOptions{
		Component: feature,
		Action:    action,
		Metadata:  metadata,
	})
}

// TrackClick записывает клик по компоненту.
func (a *API) TrackClick(component, action string, metadata map[string]any) {
	a.rec.Record(domain.EventClick, domain.CategoryInteraction, domain.EventOptions{
		Component: component,
		Action:    action,
		Metadata:  metadata,
	})
}

// TrackFormSubmit записывает отправку формы.
func (a *API) TrackFormSubmit(form string, metadata map[string]any) {
	a.rec.Record(domain.EventFormSubmit, domain.CategoryForm, domain.EventOptions{
		Component: form,
		Action:    "submit",
		Metadata:  metadata,
	})
}

// TrackSearch записывает поисковый запрос и число результатов.
func (a *API) TrackSearch(query string, resultsCount int, metadata map[string]any) {
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta["results_count"] = resultsCount
	a.rec.Record(domain.EventSearch, domain.CategorySearch, domain.EventOptions{
		Action:   query,
		Metadata: meta,
	})
}

// TrackError записывает ошибку интерфейса.
func (a *API) TrackError(component, message string, metadata map[string]any) {
	a.rec.Record(domain.EventError, domain.CategoryError, domain.EventOptions{
		Component: component,
		Action:    message,
		Metadata:  metadata,
	})
}
