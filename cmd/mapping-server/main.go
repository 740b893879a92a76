package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/semalign/semalign/pkg/cache"
	"github.com/semalign/semalign/pkg/catalog"
	"github.com/semalign/semalign/pkg/logging"
	"github.com/semalign/semalign/pkg/mapper"
	"github.com/semalign/semalign/pkg/run"
)

func main() {
	// Configuration from environment
	port := getEnv("PORT", "8080")
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := getEnv("MAPPING_MODEL", "gpt-4o-mini")
	redisURL := os.Getenv("REDIS_URL")

	logging.Setup(logging.DefaultConfig())

	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY is required")
	}

	httpMapper, err := mapper.NewHTTP(mapper.DefaultHTTPConfig(apiKey, model))
	if err != nil {
		log.Fatalf("Failed to create mapper: %v", err)
	}

	// Optional Redis-backed batch result cache
	var m mapper.Mapper = httpMapper
	if redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		m = cache.NewCachingMapper(httpMapper, cache.NewManager(redisClient, 7*24*time.Hour))
		log.Printf("Batch result cache enabled at %s", redisURL)
	}

	runner, err := run.New(m, run.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	http.HandleFunc("/health", healthHandler)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/map", mapHandler(runner))

	addr := ":" + port
	log.Printf("Starting mapping server on %s (model %s)", addr, model)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// mapRequest is the POST /map payload.
type mapRequest struct {
	First  []catalog.Item `json:"first"`
	Second []catalog.Item `json:"second"`
	Prompt string         `json:"prompt"`
}

type mapResponse struct {
	Status        string             `json:"status"`
	Mappings      []mapper.Candidate `json:"mappings"`
	MappedCount   int                `json:"mapped_count"`
	TotalMappings int                `json:"total_mappings"`
	AvgScore      float64            `json:"avg_score"`
	TotalTokens   int                `json:"total_tokens"`
	FailedBatches []int              `json:"failed_batches,omitempty"`
}

func mapHandler(runner *run.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req mapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		result, err := runner.Run(r.Context(), req.First, req.Second, req.Prompt)
		if err != nil {
			http.Error(w, fmt.Sprintf("mapping run failed: %v", err), http.StatusInternalServerError)
			return
		}

		resp := mapResponse{
			Status:        string(result.Status),
			Mappings:      result.Mappings,
			MappedCount:   result.Stats.MappedCount,
			TotalMappings: result.Stats.TotalMappings,
			AvgScore:      result.Stats.AvgScore,
			TotalTokens:   result.Stats.TotalTokens,
		}
		for _, f := range result.FailedBatches {
			resp.FailedBatches = append(resp.FailedBatches, f.Index)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("Failed to write response: %v", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
