package main

import (
	"net/http"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/handler"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/metrics"
)

func setupRouter(
	prefix string,
	forwarder *handler.Forwarder,
	client *backend.Client,
	collector *metrics.Collector,
	exporter *metrics.Exporter,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET "+prefix+"/"+handler.RouteRecommendations,
		collector.Instrument(handler.RouteRecommendations, http.HandlerFunc(forwarder.Recommendations)))
	mux.Handle("GET "+prefix+"/"+handler.RouteChart,
		collector.Instrument(handler.RouteChart, http.HandlerFunc(forwarder.Chart)))

	mux.HandleFunc("GET /health", handler.Health(client, client.URL().String()))
	mux.Handle("GET /metrics", exporter.Handler())
	mux.HandleFunc("GET /metrics/snapshot", collector.Handler())

	return mux
}
