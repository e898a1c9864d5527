package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	release     bool
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Confirmed
	fail409       uint64 // Reservation conflicts
	fail503       uint64 // Retryable failures
	failOther     uint64
	releases      uint64
)

type room struct {
	ID   string `json:"id"`
	Host struct {
		Email string `json:"email"`
	} `json:"host"`
	Price float64 `json:"price"`
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "hotspot", "Workload type: uniform | hotspot")
	flag.BoolVar(&release, "release", true, "Host releases each room after a confirmed booking")
}

func main() {
	flag.Parse()
	logrus.Infof("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	client := &http.Client{Timeout: 15 * time.Second}
	rooms, err := fetchRooms(client)
	if err != nil || len(rooms) < 2 {
		logrus.Fatalf("need at least 2 seeded rooms: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, rooms, i, start)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, client *http.Client, rooms []room, id int, start time.Time) {
	defer wg.Done()
	guest := fmt.Sprintf("bench-guest-%d@stayvista.test", id)
	token, err := signIn(client, guest)
	if err != nil {
		logrus.WithError(err).Error("sign in failed")
		return
	}
	hostTokens := map[string]string{}

	for time.Since(start) < duration {
		r := pickRoom(rooms)
		payload := map[string]any{
			"guest":   map[string]string{"email": guest},
			"host":    r.Host.Email,
			"room_id": r.ID,
			"price":   r.Price,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/bookings", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.NewString())
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		resp.Body.Close()

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
			if release {
				releaseRoom(client, hostTokens, r)
			}
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusServiceUnavailable:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func releaseRoom(client *http.Client, tokens map[string]string, r room) {
	token, ok := tokens[r.Host.Email]
	if !ok {
		var err error
		if token, err = signIn(client, r.Host.Email); err != nil {
			return
		}
		tokens[r.Host.Email] = token
	}
	req, _ := http.NewRequest(http.MethodPatch, targetURL+"/room-status/"+r.ID, bytes.NewBufferString(`{"status":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		atomic.AddUint64(&releases, 1)
	}
}

func signIn(client *http.Client, email string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email})
	resp, err := client.Post(targetURL+"/jwt", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func fetchRooms(client *http.Client) ([]room, error) {
	resp, err := client.Get(targetURL + "/rooms")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var rooms []room
	return rooms, json.NewDecoder(resp.Body).Decode(&rooms)
}

func pickRoom(rooms []room) room {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// Hotspot: 90% of traffic races for the first two rooms
		return rooms[rand.Intn(2)]
	}
	return rooms[rand.Intn(len(rooms))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f409 := atomic.LoadUint64(&fail409)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	var conflictRate float64
	if total > 0 {
		conflictRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    float64(total) / d.Seconds(),
		"confirmed":         s201,
		"conflicts":         f409,
		"conflict_rate_pct": conflictRate,
		"unavailable":       f503,
		"releases":          atomic.LoadUint64(&releases),
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		logrus.WithError(err).Warn("could not save results")
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
