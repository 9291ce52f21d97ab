package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/metrics"
)

// Route names used for metrics labels and log attributes.
const (
	RouteRecommendations = "recomendacoes"
	RouteChart           = "grafico-json"
)

const (
	recommendationsPath = "/analytics/recomendacoes"
	chartPath           = "/analytics/grafico-json"

	paramUserID    = "id_usuario"
	paramChartType = "tipo"

	DefaultChartType = "receita"
)

// Fetcher retrieves a JSON document from the analytics backend.
type Fetcher interface {
	FetchJSON(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Forwarder serves the routes that proxy the analytics backend.
type Forwarder struct {
	logger    *slog.Logger
	fetcher   Fetcher
	collector *metrics.Collector
}

// NewForwarder creates a Forwarder. collector may be nil.
func NewForwarder(logger *slog.Logger, fetcher Fetcher, collector *metrics.Collector) *Forwarder {
	return &Forwarder{
		logger:    logger,
		fetcher:   fetcher,
		collector: collector,
	}
}

// Recommendations forwards GET /recomendacoes?id_usuario= to the backend.
func (f *Forwarder) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get(paramUserID)
	if err := validation.Validate(userID, validation.Required); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Error: MsgUserIDRequired})
		return
	}

	body, err := f.fetcher.FetchJSON(r.Context(), recommendationsPath, url.Values{paramUserID: {userID}})
	if err != nil {
		f.reportFailure(r, RouteRecommendations, err)
		status, env := RecommendationFailure(err)
		writeJSON(w, status, env)
		return
	}

	writeRaw(w, http.StatusOK, body)
}

// Chart forwards GET /grafico-json?tipo= to the backend. tipo defaults to
// receita only when the parameter is absent.
func (f *Forwarder) Chart(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	chartType := DefaultChartType
	if query.Has(paramChartType) {
		chartType = query.Get(paramChartType)
	}

	body, err := f.fetcher.FetchJSON(r.Context(), chartPath, url.Values{paramChartType: {chartType}})
	if err != nil {
		f.reportFailure(r, RouteChart, err)
		status, env := ChartFailure(err)
		writeJSON(w, status, env)
		return
	}

	writeRaw(w, http.StatusOK, body)
}

func (f *Forwarder) reportFailure(r *http.Request, route string, err error) {
	kind := backend.KindFailure
	status := 0
	var ferr *backend.Error
	if errors.As(err, &ferr) {
		kind = ferr.Kind
		status = ferr.StatusCode
	}

	f.logger.ErrorContext(r.Context(), "Erro ao conectar com serviço ML",
		slog.String("route", route),
		slog.String("kind", kind.String()),
		slog.Int("status", status),
		slog.Any("err", err))

	f.collector.Emit(metrics.MetricEvent{
		Type:        metrics.EventUpstreamFailure,
		Route:       route,
		FailureKind: kind.String(),
	})
}
