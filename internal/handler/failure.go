package handler

import (
	"errors"
	"net/http"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
)

const (
	MsgUserIDRequired    = "id_usuario é obrigatório"
	MsgMLUnavailable     = "Serviço de ML indisponível"
	MsgMLNotRunning      = "O serviço de machine learning não está rodando"
	MsgInternalError     = "Erro interno"
	MsgChartFailed       = "Erro ao gerar gráfico"
	MsgRateLimitExceeded = "Limite de requisições excedido"
)

// RecommendationFailure maps a fetch error on the recommendation route to
// its response. An unreachable backend gets 503; everything else gets 500
// carrying the backend detail when it sent one, else the error message.
func RecommendationFailure(err error) (int, Envelope) {
	var ferr *backend.Error
	if errors.As(err, &ferr) && ferr.Kind == backend.KindUnavailable {
		return http.StatusServiceUnavailable, Envelope{
			Error:  MsgMLUnavailable,
			Detail: MsgMLNotRunning,
		}
	}

	var detail any = err.Error()
	if ferr != nil && len(ferr.Detail) > 0 {
		detail = ferr.Detail
	}

	return http.StatusInternalServerError, Envelope{
		Error:  MsgInternalError,
		Detail: detail,
	}
}

// ChartFailure maps every fetch error on the chart route to the same 500.
// Unlike RecommendationFailure it neither distinguishes an unreachable
// backend nor forwards detail.
func ChartFailure(error) (int, Envelope) {
	return http.StatusInternalServerError, Envelope{Error: MsgChartFailed}
}
