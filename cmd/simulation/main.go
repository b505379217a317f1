package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/internal/database"
	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/trading"
	"github.com/ksred/stock-ledger/internal/types"
	"github.com/ksred/stock-ledger/pkg/correlation"
	"github.com/ksred/stock-ledger/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minTrades     = 50
	maxTrades     = 300
	numWorkers    = 8
	numUsers      = 4
	serverPort    = "8089"
	serverAddress = "http://localhost:" + serverPort
)

var companies = []types.Company{
	{ID: "cib", Name: "Commercial International Bank", Acronym: "CIB", CurrentPrice: decimal.RequireFromString("75.5"), TempPrice: decimal.RequireFromString("76.1")},
	{ID: "cna", Name: "Canon", Acronym: "CNA", CurrentPrice: decimal.RequireFromString("45.3"), TempPrice: decimal.RequireFromString("44.9")},
	{ID: "coc", Name: "CocaCola", Acronym: "COC", CurrentPrice: decimal.RequireFromString("60.25"), TempPrice: decimal.RequireFromString("61")},
	{ID: "juh", Name: "Juhayna", Acronym: "JUH", CurrentPrice: decimal.RequireFromString("35.75"), TempPrice: decimal.RequireFromString("35.75")},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	rejected   int // 4xx business rejections such as insufficient funds
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, status int, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	switch {
	case err != nil || status >= 500:
		rs.failures++
	case status >= 400:
		rs.rejected++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// envelope mirrors the API's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient handles HTTP communication with the ledger API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"buy":          {name: "Buy"},
			"sell":         {name: "Sell"},
			"user":         {name: "Get User"},
			"holdings":     {name: "Get Holdings"},
			"transactions": {name: "List Transactions"},
		},
	}
}

// do sends a request and decodes the envelope into out when the call succeeds
func (sc *simulationClient) do(route, method, path string, body interface{}, out interface{}) (int, error) {
	start := time.Now()
	status, err := sc.send(method, path, body, out)
	sc.stats[route].addDuration(time.Since(start), status, err)
	return status, err
}

func (sc *simulationClient) send(method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlation.Header, uuid.New().String())
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Int("status", resp.StatusCode).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if !env.Success {
		if env.Error != nil {
			return resp.StatusCode, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (sc *simulationClient) buy(userID, companyID string, quantity int64, price decimal.Decimal) (int, error) {
	return sc.do("buy", http.MethodPost, "/api/v1/stocks/buy", trading.BuyRequest{
		UserID:    userID,
		CompanyID: companyID,
		Quantity:  quantity,
		BuyPrice:  price,
	}, nil)
}

func (sc *simulationClient) sell(userID, companyID string, quantity int64) (int, error) {
	return sc.do("sell", http.MethodPost, "/api/v1/stocks/sell", trading.SellRequest{
		UserID:    userID,
		CompanyID: companyID,
		Quantity:  quantity,
	}, nil)
}

func (sc *simulationClient) getUser(userID string) (*types.User, error) {
	var user types.User
	if _, err := sc.do("user", http.MethodGet, "/api/v1/users/"+userID, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (sc *simulationClient) getHoldings(userID string) ([]types.Holding, error) {
	var holdings []types.Holding
	if _, err := sc.do("holdings", http.MethodGet, "/api/v1/users/"+userID+"/stocks", nil, &holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

func (sc *simulationClient) countTransactions(userID string) (int64, error) {
	var page types.TransactionPage
	if _, err := sc.do("transactions", http.MethodGet, "/api/v1/transactions?user_id="+userID, nil, &page); err != nil {
		return 0, err
	}
	return page.TotalRecords, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Rejected", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, key := range []string{"buy", "sell", "user", "holdings", "transactions"} {
		stats := sc.stats[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			stats.rejected,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main starts an in-process ledger API and drives concurrent trades at it,
// then checks that balances, lots and the transaction log agree
func main() {
	dir, err := os.MkdirTemp("", "ledger-simulation")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create work directory")
	}
	defer os.RemoveAll(dir)

	userIDs, err := startServer(filepath.Join(dir, "ledger.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	// Wait for server to start
	time.Sleep(500 * time.Millisecond)

	simClient := newSimulationClient()
	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Int("workers", numWorkers).Msg("Starting simulation")

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runTrades(workerID, targetTrades/numWorkers, simClient, userIDs)
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	violations := verifyLedger(simClient, userIDs)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("LEDGER SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Trades attempted: %d\nDuration:         %v\nViolations:       %d\n",
		targetTrades-targetTrades%numWorkers, duration.Round(time.Millisecond), violations)

	simClient.printPerformanceStats()

	if violations > 0 {
		log.Error().Int("violations", violations).Msg("Simulation found ledger inconsistencies")
		os.Exit(1)
	}
	log.Info().Dur("duration", duration).Msg("Simulation completed")
}

// runTrades submits random buys and sells, weighted towards buys so sells
// have lots to consume
func runTrades(workerID, numTrades int, simClient *simulationClient, userIDs []string) {
	logger := log.With().Int("worker_id", workerID).Logger()

	for i := 0; i < numTrades; i++ {
		userID := userIDs[rand.Intn(len(userIDs))]
		company := companies[rand.Intn(len(companies))]
		quantity := int64(rand.Intn(10) + 1)

		var status int
		var err error
		side := "buy"
		if rand.Intn(10) < 4 {
			side = "sell"
			status, err = simClient.sell(userID, company.ID, quantity)
		} else {
			status, err = simClient.buy(userID, company.ID, quantity, company.CurrentPrice)
		}

		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("side", side).
			Str("user_id", userID).
			Str("company", company.Acronym).
			Int64("quantity", quantity).
			Int("status", status).
			Msg("Trade submitted")

		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
	}
}

// verifyLedger checks per-user consistency between cached balances, open lots
// and the transaction log, returning the number of violations found
func verifyLedger(simClient *simulationClient, userIDs []string) int {
	violations := 0
	for _, userID := range userIDs {
		user, err := simClient.getUser(userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user")
			violations++
			continue
		}
		holdings, err := simClient.getHoldings(userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to load holdings")
			violations++
			continue
		}
		trades, err := simClient.countTransactions(userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to count transactions")
			violations++
			continue
		}

		if user.WalletBalance.IsNegative() {
			log.Error().Str("user_id", userID).Str("wallet", user.WalletBalance.String()).Msg("Negative wallet balance")
			violations++
		}
		for _, h := range holdings {
			for _, lot := range h.Lots {
				if lot.Quantity <= 0 {
					log.Error().Str("lot_id", lot.ID).Int64("quantity", lot.Quantity).Msg("Non-positive lot")
					violations++
				}
			}
		}
		if trades != user.NumberOfTrades {
			log.Error().
				Str("user_id", userID).
				Int64("transactions", trades).
				Int64("number_of_trades", user.NumberOfTrades).
				Msg("Trade counter disagrees with transaction log")
			violations++
		}

		log.Info().
			Str("user_id", userID).
			Str("wallet", user.WalletBalance.String()).
			Str("total_profit", user.TotalProfit.String()).
			Int64("trades", user.NumberOfTrades).
			Int("companies_held", len(holdings)).
			Msg("User verified")
	}
	return violations
}

// startServer seeds a fresh ledger and serves the API in the background
func startServer(path string) ([]string, error) {
	db, err := database.NewDatabase(path, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx := context.Background()
	store := ledger.NewDatabase(db)
	for i := range companies {
		company := companies[i]
		if err := store.CreateCompany(ctx, &company); err != nil {
			return nil, fmt.Errorf("failed to seed company %s: %w", company.Acronym, err)
		}
	}

	userIDs := make([]string, 0, numUsers)
	for i := 0; i < numUsers; i++ {
		user := &types.User{
			FirstName:     "Sim",
			LastName:      fmt.Sprintf("User%d", i),
			Username:      fmt.Sprintf("sim-%d", i),
			WalletBalance: decimal.NewFromInt(5000),
		}
		if err := store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to seed user: %w", err)
		}
		userIDs = append(userIDs, user.ID)
	}

	tradingService := trading.NewService(db, trading.Options{Timeout: 5 * time.Second})
	tradingHandlers := trading.NewGinHandlers(tradingService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Correlation())
	tradingHandlers.RegisterRoutes(router.Group("/api/v1"))

	go func() {
		if err := router.Run(":" + serverPort); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	return userIDs, nil
}
