// Fakeml is a stand-in for the analytics service, used to run the gateway
// locally without the Python stack. It serves /analytics/recomendacoes,
// /analytics/grafico-json and /docs.
//
// Usage:
//
//	go run ./scripts/fakeml -port 8001 -delay 200ms -fail 0.1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type validationDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type trace struct {
	Type string    `json:"type"`
	X    []string  `json:"x"`
	Y    []float64 `json:"y"`
	Name string    `json:"name"`
}

func main() {
	port := flag.Int("port", 8001, "port to listen on")
	delay := flag.Duration("delay", 0, "artificial latency added to every analytics response")
	fail := flag.Float64("fail", 0, "fraction of analytics requests answered with 500")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	analytics := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			log.Info("request", slog.String("path", r.URL.Path), slog.String("query", r.URL.RawQuery))
			time.Sleep(*delay)
			if *fail > 0 && rand.Float64() < *fail {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "falha simulada no serviço de ML"})
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /analytics/recomendacoes", analytics(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id_usuario")
		if id == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []validationDetail{{
				Loc: []string{"query", "id_usuario"}, Msg: "Field required", Type: "missing",
			}}})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id_usuario": id,
			"gerado_em":  time.Now().UTC().Format(time.RFC3339),
			"request_id": uuid.NewString(),
			"recomendacoes": []string{
				"Suas despesas com lazer subiram 18% no último mês",
				"Reserve ao menos 10% da receita para emergências",
			},
		})
	}))

	mux.HandleFunc("GET /analytics/grafico-json", analytics(func(w http.ResponseWriter, r *http.Request) {
		tipo := r.URL.Query().Get("tipo")
		if tipo != "receita" && tipo != "despesa" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []validationDetail{{
				Loc: []string{"query", "tipo"}, Msg: "Input should be 'receita' or 'despesa'", Type: "enum",
			}}})
			return
		}

		months := []string{"2026-05", "2026-06", "2026-07", "2026-08", "2026-09", "2026-10"}
		values := make([]float64, len(months))
		for i := range values {
			values[i] = float64(1000 + rand.IntN(4000))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data":   []trace{{Type: "bar", X: months, Y: values, Name: tipo}},
			"layout": map[string]any{"title": map[string]string{"text": "Evolução de " + tipo}},
		})
	}))

	mux.HandleFunc("GET /docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>fakeml</body></html>"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting fake ML service", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
