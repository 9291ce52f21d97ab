// Loadtest fires concurrent GET requests at the gateway and reports
// throughput, latency percentiles and the status code distribution.
//
// Usage:
//
//	go run ./scripts/loadtest -url "http://localhost:3000/recomendacoes?id_usuario=1" -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:3000/grafico-json -out summary.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type summary struct {
	Target      string         `json:"target"`
	Requests    int            `json:"requests"`
	Concurrency int            `json:"concurrency"`
	Success     int32          `json:"success"`
	Failure     int32          `json:"failure"`
	DurationMS  int64          `json:"duration_ms"`
	Throughput  float64        `json:"throughput_rps"`
	StatusCodes map[int]int32  `json:"status_codes"`
	Latency     map[string]int `json:"latency_ms"`
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:3000/grafico-json", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		timeout     = flag.Duration("timeout", 35*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var success, failure int32

	var mutex sync.Mutex
	statusCodes := make(map[int]int32)
	latencies := make([]time.Duration, 0, *requests)

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				req, err := http.NewRequest(http.MethodGet, *target, nil)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}
				reqID := uuid.NewString()
				req.Header.Set("X-Request-ID", reqID)
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.168.1.%d", (idx%50)+1))

				start := time.Now()
				resp, err := client.Do(req)
				dur := time.Since(start)

				mutex.Lock()
				latencies = append(latencies, dur)
				mutex.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d id=%s error=%v\n", workerID, idx, reqID, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				mutex.Lock()
				statusCodes[resp.StatusCode]++
				mutex.Unlock()

				if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				if *verbose {
					fmt.Printf("[%d] idx=%d id=%s status=%d dur=%v\n", workerID, idx, reqID, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	total := time.Since(testStart)

	slices.Sort(latencies)
	pick := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		return latencies[int(float64(len(latencies)-1)*p)]
	}

	sum := summary{
		Target:      *target,
		Requests:    *requests,
		Concurrency: *concurrency,
		Success:     success,
		Failure:     failure,
		DurationMS:  total.Milliseconds(),
		Throughput:  float64(*requests) / total.Seconds(),
		StatusCodes: statusCodes,
		Latency: map[string]int{
			"p50": int(pick(0.50).Milliseconds()),
			"p90": int(pick(0.90).Milliseconds()),
			"p95": int(pick(0.95).Milliseconds()),
			"p99": int(pick(0.99).Milliseconds()),
		},
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", sum.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", sum.Requests, sum.Concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", sum.Success, sum.Failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", total, sum.Throughput)

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(statusCodes))
	for k := range statusCodes {
		codes = append(codes, k)
	}
	slices.Sort(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	fmt.Printf("\nLatency: p50=%v p90=%v p95=%v p99=%v\n", pick(0.50), pick(0.90), pick(0.95), pick(0.99))

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(sum)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}
