// Load generator for exercising Harrier with customer transaction data.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -customers 500
//	go run ./cmd/loadgen -csv transactions.csv -mode bus -nats nats://localhost:4222
//
// This tool:
//  1. Optionally seeds a standard rule set through POST /rules
//  2. Loads transactions from a CSV file (user_id,product_id,product_type,type,amount)
//     or generates synthetic customers, and ingests them through the API
//  3. Requests recommendations for every customer over HTTP or the event bus
//  4. Reports latency, throughput and offers per product
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Row is one transaction to ingest.
type Row struct {
	CustomerID  string
	ProductID   string
	ProductType string
	Type        string
	Amount      decimal.Decimal
}

// Results tracks load run outcomes.
type Results struct {
	Processed int64
	Errors    int64
	Offers    int64
	LatencyMs int64

	mu         sync.Mutex
	perProduct map[string]int64
	maxLatency time.Duration
}

func (r *Results) record(offers []domain.ProductOffer, elapsed time.Duration) {
	atomic.AddInt64(&r.Processed, 1)
	atomic.AddInt64(&r.Offers, int64(len(offers)))
	atomic.AddInt64(&r.LatencyMs, elapsed.Milliseconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range offers {
		r.perProduct[o.ProductName]++
	}
	if elapsed > r.maxLatency {
		r.maxLatency = elapsed
	}
}

// recommender fetches offers for one customer.
type recommender func(ctx context.Context, customerID string) ([]domain.ProductOffer, error)

// productTypes are the synthetic product lines, mirroring the default catalog.
var productTypes = []string{"DEBIT", "SAVING", "INVESTMENT", "CREDIT"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	csvPath := flag.String("csv", "", "CSV of transactions to ingest (optional)")
	customers := flag.Int("customers", 200, "Synthetic customers to generate when no CSV is given")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seedRules := flag.Bool("seed-rules", true, "Create the standard rule set before the run")
	mode := flag.String("mode", "http", "How to request recommendations: http or bus")
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS URL for bus mode")
	timeout := flag.Duration("timeout", 10*time.Second, "Per-request timeout")
	flag.Parse()

	fmt.Println("HARRIER LOAD GENERATOR")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Mode:        %s\n", *mode)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	client := &http.Client{Timeout: *timeout}

	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	if *seedRules {
		created, err := seedStandardRules(client, *baseURL)
		if err != nil {
			fmt.Printf("ERROR: failed to seed rules: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d rules\n", created)
	}

	var rows []Row
	var err error
	if *csvPath != "" {
		rows, err = readCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		rows = synthesize(*customers)
	}
	fmt.Printf("Ingesting %d transactions...\n", len(rows))

	customerIDs, err := ingest(client, *baseURL, rows)
	if err != nil {
		fmt.Printf("ERROR: ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested data for %d customers\n", len(customerIDs))

	var recommend recommender
	switch *mode {
	case "http":
		recommend = httpRecommender(client, *baseURL)
	case "bus":
		eventBus, err := bus.New(domain.EventBusConfig{
			Type:              "nats",
			NATSUrl:           *natsURL,
			NATSMaxReconnects: 3,
			NATSReconnectWait: 1,
		})
		if err != nil {
			fmt.Printf("ERROR: failed to connect to NATS: %v\n", err)
			os.Exit(1)
		}
		defer eventBus.Close()
		recommend = busRecommender(eventBus)
	default:
		fmt.Printf("ERROR: unknown mode %q\n", *mode)
		os.Exit(1)
	}

	fmt.Printf("\nRequesting recommendations with %d workers...\n", *workers)
	start := time.Now()
	results := run(customerIDs, recommend, *workers, *timeout)
	printResults(results, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// seedStandardRules creates a small rule set covering every product line.
func seedStandardRules(client *http.Client, baseURL string) (int, error) {
	standard := []map[string]any{
		{
			"name":        "Invest 500",
			"productType": "INVESTMENT",
			"priority":    30,
			"condition":   map[string]any{
				"type":       "ALL_OF",
				"conditions": []map[string]any{
					{"type": "HAS_PRODUCT", "productType": "DEBIT"},
					{"type": "NO_PRODUCT", "productType": "INVESTMENT"},
					{"type": "MIN_AMOUNT", "productType": "SAVING", "transactionType": "DEPOSIT", "minAmount": 1000},
				},
			},
		},
		{
			"name":        "Top Saving",
			"productType": "SAVING",
			"priority":    20,
			"condition":   map[string]any{
				"type":             "AMOUNT_COMPARISON",
				"productType":      "DEBIT",
				"comparisonType":   "DEPOSITS_GT_WITHDRAWALS",
				"comparisonAmount": 0,
			},
		},
		{
			"name":        "Simple Credit",
			"productType": "CREDIT",
			"priority":    10,
			"condition":   map[string]any{
				"type":        "EXPRESSION",
				"productType": "DEBIT",
				"expression":  "transaction_count >= 3 && total_deposits > total_withdrawals",
			},
		},
	}

	created := 0
	for _, rule := range standard {
		body, err := json.Marshal(rule)
		if err != nil {
			return created, err
		}
		if err := post(client, baseURL+"/rules", body); err != nil {
			return created, fmt.Errorf("rule %v: %w", rule["name"], err)
		}
		created++
	}
	return created, nil
}

func readCSV(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"user_id", "product_id", "product_type", "type", "amount"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := decimal.NewFromString(record[colIndex["amount"]])
		if err != nil {
			continue
		}

		rows = append(rows, Row{
			CustomerID:  record[colIndex["user_id"]],
			ProductID:   record[colIndex["product_id"]],
			ProductType: strings.ToUpper(record[colIndex["product_type"]]),
			Type:        strings.ToUpper(record[colIndex["type"]]),
			Amount:      amount,
		})
	}

	return rows, nil
}

// synthesize generates a few transactions per customer across random
// product lines.
func synthesize(customers int) []Row {
	var rows []Row
	for i := 0; i < customers; i++ {
		customerID := uuid.New().String()
		for j := 0; j < 1+rand.IntN(6); j++ {
			productType := productTypes[rand.IntN(len(productTypes))]
			txType := domain.TransactionDeposit
			if rand.IntN(3) == 0 {
				txType = domain.TransactionWithdrawal
			}
			rows = append(rows, Row{
				CustomerID:  customerID,
				ProductID:   "loadgen-" + strings.ToLower(productType),
				ProductType: productType,
				Type:        txType,
				Amount:      decimal.NewFromInt(int64(10 + rand.IntN(2000))),
			})
		}
	}
	return rows
}

// ingest posts every product once and every transaction, returning the
// distinct customer ids in first-seen order.
func ingest(client *http.Client, baseURL string, rows []Row) ([]string, error) {
	products := make(map[string]bool)
	seen := make(map[string]bool)
	var customerIDs []string

	for _, row := range rows {
		if !products[row.ProductID] {
			body, _ := json.Marshal(domain.Product{ID: row.ProductID, Type: row.ProductType, Name: row.ProductType})
			if err := post(client, baseURL+"/products", body); err != nil {
				return nil, fmt.Errorf("product %s: %w", row.ProductID, err)
			}
			products[row.ProductID] = true
		}

		body, _ := json.Marshal(domain.Transaction{
			ProductID:  row.ProductID,
			CustomerID: row.CustomerID,
			Type:       row.Type,
			Amount:     row.Amount,
		})
		if err := post(client, baseURL+"/transactions", body); err != nil {
			return nil, fmt.Errorf("transaction for %s: %w", row.CustomerID, err)
		}

		if !seen[row.CustomerID] {
			seen[row.CustomerID] = true
			customerIDs = append(customerIDs, row.CustomerID)
		}
	}

	return customerIDs, nil
}

func post(client *http.Client, url string, body []byte) error {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func httpRecommender(client *http.Client, baseURL string) recommender {
	return func(ctx context.Context, customerID string) ([]domain.ProductOffer, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/recommendations?userId="+customerID, nil)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		var offers []domain.ProductOffer
		if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
			return nil, err
		}
		return offers, nil
	}
}

// busRecommender publishes recommendation requests and waits for the
// worker's reply.
func busRecommender(eventBus domain.EventBus) recommender {
	return func(ctx context.Context, customerID string) ([]domain.ProductOffer, error) {
		payload, err := json.Marshal(domain.RecommendationRequest{
			RequestID:  uuid.New().String(),
			CustomerID: customerID,
		})
		if err != nil {
			return nil, err
		}

		reply, err := eventBus.Request(ctx, domain.TopicRecommendationRequested, payload)
		if err != nil {
			return nil, err
		}

		var offers []domain.ProductOffer
		if err := json.Unmarshal(reply, &offers); err != nil {
			return nil, err
		}
		return offers, nil
	}
}

func run(customerIDs []string, recommend recommender, numWorkers int, timeout time.Duration) *Results {
	results := &Results{perProduct: make(map[string]int64)}

	work := make(chan string, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for customerID := range work {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				start := time.Now()
				offers, err := recommend(ctx, customerID)
				elapsed := time.Since(start)
				cancel()

				if err != nil {
					atomic.AddInt64(&results.Errors, 1)
					continue
				}
				results.record(offers, elapsed)
			}
		}()
	}

	for _, id := range customerIDs {
		work <- id
	}
	close(work)

	wg.Wait()

	return results
}

func printResults(r *Results, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\n   Customers:        %d\n", r.Processed)
	fmt.Printf("   Errors:           %d\n", r.Errors)
	fmt.Printf("   Offers:           %d\n", r.Offers)

	fmt.Printf("\n   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if r.Processed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(r.LatencyMs)/float64(r.Processed))
		fmt.Printf("   Max Latency:      %v\n", r.maxLatency.Round(time.Millisecond))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(r.Processed)/duration.Seconds())
	}

	if len(r.perProduct) > 0 {
		fmt.Println("\n   Offers per product:")
		names := make([]string, 0, len(r.perProduct))
		for name := range r.perProduct {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("     %-24s %d\n", name, r.perProduct[name])
		}
	}

	fmt.Println()
}
