package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/backend"
	"github.com/AntonioCar0lin0/API-ML-GestaoEstoque/internal/circuitbreaker"
)

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *backend.Client
	)

	BeforeEach(func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		client = backend.NewClient(mustParseURL(server.URL))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewClient", func() {
		It("should start healthy with the default timeout", func() {
			Expect(client.IsHealthy()).To(BeTrue())
			Expect(client.Timeout()).To(Equal(backend.DefaultTimeout))
			Expect(client.URL().String()).To(Equal(server.URL))
		})

		It("should apply options", func() {
			c := backend.NewClient(mustParseURL(server.URL), backend.WithTimeout(time.Second))
			Expect(c.Timeout()).To(Equal(time.Second))
		})
	})

	Describe("Endpoint", func() {
		It("should join the path and encode params", func() {
			endpoint := client.Endpoint("/analytics/recomendacoes", url.Values{"id_usuario": {"42"}})
			Expect(endpoint).To(Equal(server.URL + "/analytics/recomendacoes?id_usuario=42"))
		})

		It("should keep a path prefix on the base URL", func() {
			c := backend.NewClient(mustParseURL("http://ml.internal:8001/api"))
			Expect(c.Endpoint("/analytics/grafico-json", url.Values{"tipo": {"despesa"}})).
				To(Equal("http://ml.internal:8001/api/analytics/grafico-json?tipo=despesa"))
		})

		It("should escape parameter values", func() {
			endpoint := client.Endpoint("/analytics/recomendacoes", url.Values{"id_usuario": {"a b&c"}})
			Expect(endpoint).To(HaveSuffix("?id_usuario=a+b%26c"))
		})
	})

	Describe("FetchJSON", func() {
		It("should issue a GET with the given path and params", func() {
			var got *http.Request
			handler = func(w http.ResponseWriter, r *http.Request) {
				got = r
				w.Write([]byte(`[]`))
			}

			_, err := client.FetchJSON(context.Background(), "/analytics/grafico-json", url.Values{"tipo": {"receita"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Method).To(Equal(http.MethodGet))
			Expect(got.URL.Path).To(Equal("/analytics/grafico-json"))
			Expect(got.URL.Query().Get("tipo")).To(Equal("receita"))
			Expect(got.Header.Get("Accept")).To(Equal("application/json"))
		})

		It("should return the body byte-for-byte", func() {
			payload := `{ "recomendacoes" : "Reduza gastos com lazer",  "n": 1.50 }`
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			}

			body, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(payload))
		})

		It("should record the response time", func() {
			_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(client.EWMATime()).To(BeNumerically(">", 0))
		})

		Context("when the backend answers non-2xx", func() {
			It("should extract the detail member", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
					w.Write([]byte(`{"detail":"Usuário não encontrado"}`))
				}

				_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				var ferr *backend.Error
				Expect(errors.As(err, &ferr)).To(BeTrue())
				Expect(ferr.Kind).To(Equal(backend.KindFailure))
				Expect(ferr.StatusCode).To(Equal(http.StatusNotFound))
				Expect(string(ferr.Detail)).To(Equal(`"Usuário não encontrado"`))
				Expect(err.Error()).To(Equal("Request failed with status code 404"))
				Expect(errors.Is(err, backend.ErrStatus)).To(BeTrue())
			})

			It("should keep non-string detail values", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnprocessableEntity)
					w.Write([]byte(`{"detail":[{"loc":["query","id_usuario"],"msg":"value is not a valid integer"}]}`))
				}

				_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				var ferr *backend.Error
				Expect(errors.As(err, &ferr)).To(BeTrue())
				var detail []map[string]any
				Expect(json.Unmarshal(ferr.Detail, &detail)).To(Succeed())
				Expect(detail).To(HaveLen(1))
			})

			DescribeTable("should treat falsy or missing detail as absent",
				func(body string) {
					handler = func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusInternalServerError)
						w.Write([]byte(body))
					}

					_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
					var ferr *backend.Error
					Expect(errors.As(err, &ferr)).To(BeTrue())
					Expect(ferr.Detail).To(BeEmpty())
				},
				Entry("no detail", `{"erro":"boom"}`),
				Entry("null", `{"detail":null}`),
				Entry("empty string", `{"detail":""}`),
				Entry("false", `{"detail":false}`),
				Entry("zero", `{"detail":0}`),
				Entry("not json", `Internal Server Error`),
				Entry("array body", `["detail"]`),
			)
		})

		It("should reject a 2xx body that is not JSON", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>oops</html>`))
			}

			_, err := client.FetchJSON(context.Background(), "/analytics/grafico-json", nil)
			var ferr *backend.Error
			Expect(errors.As(err, &ferr)).To(BeTrue())
			Expect(ferr.Kind).To(Equal(backend.KindFailure))
			Expect(errors.Is(err, backend.ErrMalformedBody)).To(BeTrue())
		})

		It("should classify a timeout as a failure", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}
			c := backend.NewClient(mustParseURL(server.URL), backend.WithTimeout(50*time.Millisecond))

			_, err := c.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
			var ferr *backend.Error
			Expect(errors.As(err, &ferr)).To(BeTrue())
			Expect(ferr.Kind).To(Equal(backend.KindFailure))
			Expect(ferr.Timeout()).To(BeTrue())
			Expect(ferr.StatusCode).To(BeZero())
			Expect(err.Error()).To(Equal("timeout of 50ms exceeded"))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		})

		It("should report the caller's deadline when it is shorter", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
			defer cancel()

			_, err := client.FetchJSON(ctx, "/analytics/recomendacoes", nil)
			Expect(err).To(MatchError(MatchRegexp(`^timeout of \d+ms exceeded$`)))
			Expect(err.Error()).NotTo(ContainSubstring("30000ms"))
		})

		It("should keep the request URL out of transport error messages", func() {
			c := backend.NewClient(mustParseURL(server.URL), backend.WithHTTPClient(&http.Client{
				Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
					return nil, errors.New("tls: handshake failure")
				}),
			}))

			_, err := c.FetchJSON(context.Background(), "/analytics/recomendacoes", url.Values{"id_usuario": {"42"}})
			Expect(err).To(MatchError("tls: handshake failure"))
			Expect(err.Error()).NotTo(ContainSubstring("id_usuario"))
		})

		It("should classify a refused connection as unavailable", func() {
			closed := httptest.NewServer(http.NotFoundHandler())
			closedURL := closed.URL
			closed.Close()

			c := backend.NewClient(mustParseURL(closedURL))
			_, err := c.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
			var ferr *backend.Error
			Expect(errors.As(err, &ferr)).To(BeTrue())
			Expect(ferr.Kind).To(Equal(backend.KindUnavailable))
			Expect(ferr.Timeout()).To(BeFalse())
		})

		It("should be safe for concurrent use", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()
		})

		Context("with circuit breakers", func() {
			var calls int

			BeforeEach(func() {
				calls = 0
				handler = func(w http.ResponseWriter, r *http.Request) {
					calls++
					w.WriteHeader(http.StatusBadGateway)
				}
				client = backend.NewClient(mustParseURL(server.URL),
					backend.WithBreakers(circuitbreaker.NewRegistry(2, time.Minute)))
			})

			It("should fail fast once the breaker opens", func() {
				for i := 0; i < 2; i++ {
					_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
					Expect(err).To(HaveOccurred())
				}

				_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				var ferr *backend.Error
				Expect(errors.As(err, &ferr)).To(BeTrue())
				Expect(ferr.Kind).To(Equal(backend.KindUnavailable))
				Expect(errors.Is(err, backend.ErrCircuitOpen)).To(BeTrue())
				Expect(calls).To(Equal(2))
			})

			It("should not count abandoned calls against the backend", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					calls++
					w.Write([]byte(`{"ok":true}`))
				}
				registry := circuitbreaker.NewRegistry(2, time.Minute)
				client = backend.NewClient(mustParseURL(server.URL), backend.WithBreakers(registry))

				for i := 0; i < 3; i++ {
					ctx, cancel := context.WithCancel(context.Background())
					cancel()
					_, err := client.FetchJSON(ctx, "/analytics/recomendacoes", nil)
					Expect(err).To(HaveOccurred())
				}

				Expect(registry.GetBreaker("/analytics/recomendacoes").State()).To(Equal(circuitbreaker.StateClosed))
				body, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(`{"ok":true}`))
			})

			It("should free the half-open trial call when the caller gives up", func() {
				registry := circuitbreaker.NewRegistry(1, 50*time.Millisecond)
				client = backend.NewClient(mustParseURL(server.URL), backend.WithBreakers(registry))

				_, err := client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				Expect(err).To(HaveOccurred())
				Expect(registry.GetBreaker("/analytics/recomendacoes").State()).To(Equal(circuitbreaker.StateOpen))
				time.Sleep(80 * time.Millisecond)

				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err = client.FetchJSON(ctx, "/analytics/recomendacoes", nil)
				Expect(errors.Is(err, backend.ErrCircuitOpen)).To(BeFalse())

				handler = func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`[]`))
				}
				_, err = client.FetchJSON(context.Background(), "/analytics/recomendacoes", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(registry.GetBreaker("/analytics/recomendacoes").State()).To(Equal(circuitbreaker.StateClosed))
			})

			It("should not count client errors against the backend", func() {
				handler = func(w http.ResponseWriter, r *http.Request) {
					calls++
					w.WriteHeader(http.StatusUnprocessableEntity)
				}
				for i := 0; i < 3; i++ {
					_, err := client.FetchJSON(context.Background(), "/analytics/grafico-json", nil)
					Expect(errors.Is(err, backend.ErrCircuitOpen)).To(BeFalse())
				}
				Expect(calls).To(Equal(3))
			})
		})
	})

	Describe("Probe", func() {
		It("should succeed on 200", func() {
			Expect(client.Probe(context.Background(), "/docs", time.Second)).To(Succeed())
		})

		It("should fail on other statuses", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			Expect(client.Probe(context.Background(), "/docs", time.Second)).NotTo(Succeed())
		})
	})

	Describe("Health Management", func() {
		It("should report a change only when the status flips", func() {
			Expect(client.SetHealthy(true)).To(BeFalse())
			Expect(client.SetHealthy(false)).To(BeTrue())
			Expect(client.IsHealthy()).To(BeFalse())
			Expect(client.SetHealthy(false)).To(BeFalse())
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		It("should return zero before any response", func() {
			c := backend.NewClient(mustParseURL(server.URL))
			Expect(c.EWMATime()).To(BeZero())
		})

		It("should seed with the first sample and then smooth", func() {
			c := backend.NewClient(mustParseURL(server.URL))
			c.RecordResponse(100 * time.Millisecond)
			Expect(c.EWMATime()).To(Equal(100 * time.Millisecond))

			c.RecordResponse(200 * time.Millisecond)
			Expect(c.EWMATime()).To(BeNumerically("~", 120*time.Millisecond, time.Microsecond))
		})
	})
})

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
