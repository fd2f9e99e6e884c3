package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	TokenSecret string
	PostgresDSN string
	Calls       int
	StartRacers int
	Workers     int
}

type callPair struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ClinicianID   uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{
		APIBaseURL:  envOr("API_BASE_URL", "http://localhost:8080"),
		TokenSecret: os.Getenv("TOKEN_SECRET"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		Calls:       envInt("SIM_CALLS", 50),
		StartRacers: envInt("SIM_START_RACERS", 5),
		Workers:     envInt("SIM_WORKERS", 10),
	}
	if cfg.TokenSecret == "" || cfg.PostgresDSN == "" {
		log.Fatal("TOKEN_SECRET and POSTGRES_DSN are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	rows, err := pool.Query(context.Background(), `
		SELECT id, patient_id, clinician_id
		FROM appointments
		WHERE status = 'scheduled'
		LIMIT $1
	`, cfg.Calls)
	if err != nil {
		log.Fatalf("load scheduled appointments: %v", err)
	}
	var pairs []callPair
	for rows.Next() {
		var p callPair
		if err := rows.Scan(&p.AppointmentID, &p.PatientID, &p.ClinicianID); err != nil {
			log.Fatalf("scan appointment: %v", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if len(pairs) == 0 {
		log.Fatal("no scheduled appointments found; run cmd/seed first")
	}

	log.Printf("simulating %d calls, %d start racers each, %d workers", len(pairs), cfg.StartRacers, cfg.Workers)

	gate := auth.NewTokenAuthenticator(cfg.TokenSecret)
	sim := &Simulator{cfg: cfg, gate: gate, client: &http.Client{Timeout: 10 * time.Second}}

	work := make(chan callPair)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				sim.runCall(p)
			}
		}()
	}
	for _, p := range pairs {
		work <- p
	}
	close(work)
	wg.Wait()

	sim.report()
}

type Simulator struct {
	cfg    SimConfig
	gate   *auth.TokenAuthenticator
	client *http.Client

	start    OperationMetrics
	signals  OperationMetrics
	wonRaces int64
}

// runCall races several concurrent starts for one appointment, then runs a
// full patient/clinician signaling exchange and an explicit call-ended.
func (s *Simulator) runCall(p callPair) {
	clinicianToken, err := s.gate.Mint(p.ClinicianID, appointment.RoleClinician, time.Hour)
	if err != nil {
		log.Printf("mint clinician token: %v", err)
		return
	}
	patientToken, err := s.gate.Mint(p.PatientID, appointment.RolePatient, time.Hour)
	if err != nil {
		log.Printf("mint patient token: %v", err)
		return
	}

	roomID := s.raceStart(p.AppointmentID, clinicianToken)
	if roomID == "" {
		return
	}
	atomic.AddInt64(&s.wonRaces, 1)

	clin, err := s.dialWS(clinicianToken)
	if err != nil {
		log.Printf("clinician dial: %v", err)
		return
	}
	defer clin.Close()
	pat, err := s.dialWS(patientToken)
	if err != nil {
		log.Printf("patient dial: %v", err)
		return
	}
	defer pat.Close()

	join := func(conn *websocket.Conn, role string) error {
		return conn.WriteJSON(map[string]string{"type": "join", "roomId": roomID, "role": role})
	}
	if err := join(clin, "clinician"); err != nil {
		log.Printf("clinician join: %v", err)
		return
	}
	if err := join(pat, "patient"); err != nil {
		log.Printf("patient join: %v", err)
		return
	}

	if !s.expect(clin, "peer-ready") {
		return
	}

	// One offer/answer style round trip with opaque payloads.
	startSignal := time.Now()
	offer := map[string]any{"type": "signal", "payload": map[string]string{"sdp": "v=0 offer"}}
	if err := pat.WriteJSON(offer); err != nil {
		s.signals.Record(time.Since(startSignal), false, false)
		return
	}
	if !s.expect(clin, "signal") {
		s.signals.Record(time.Since(startSignal), false, false)
		return
	}
	answer := map[string]any{"type": "signal", "payload": map[string]string{"sdp": "v=0 answer"}}
	if err := clin.WriteJSON(answer); err != nil {
		s.signals.Record(time.Since(startSignal), false, false)
		return
	}
	ok := s.expect(pat, "signal")
	s.signals.Record(time.Since(startSignal), ok, false)

	if err := clin.WriteJSON(map[string]string{"type": "call-ended"}); err != nil {
		log.Printf("call-ended write: %v", err)
		return
	}
	s.expect(clin, "call-ended")
	s.expect(pat, "call-ended")
}

// raceStart fires StartRacers concurrent start requests; exactly one should
// win and return the room token.
func (s *Simulator) raceStart(appointmentID uuid.UUID, token string) string {
	var roomID atomic.Value
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.StartRacers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			begin := time.Now()
			req, _ := http.NewRequest(http.MethodPost,
				fmt.Sprintf("%s/appointments/%s/start", s.cfg.APIBaseURL, appointmentID), bytes.NewReader(nil))
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := s.client.Do(req)
			if err != nil {
				s.start.Record(time.Since(begin), false, false)
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			switch resp.StatusCode {
			case http.StatusOK:
				var out struct {
					RoomID string `json:"room_id"`
				}
				if err := json.Unmarshal(body, &out); err == nil {
					roomID.Store(out.RoomID)
				}
				s.start.Record(time.Since(begin), true, false)
			case http.StatusConflict:
				s.start.Record(time.Since(begin), false, true)
			default:
				s.start.Record(time.Since(begin), false, false)
			}
		}()
	}
	wg.Wait()

	if v, ok := roomID.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Simulator) dialWS(token string) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s/ws?token=%s", scheme, u.Host, url.QueryEscape(token))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

// expect reads frames until one of msgType arrives or the read times out.
func (s *Simulator) expect(conn *websocket.Conn, msgType string) bool {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("waiting for %s: %v", msgType, err)
			return false
		}
		if msg.Type == msgType {
			return true
		}
	}
}

func (s *Simulator) report() {
	avg, p50, p95 := s.start.Stats()
	log.Printf("start: total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		s.start.Total, s.start.Success, s.start.Conflict, s.start.Error, avg, p50, p95)

	avg, p50, p95 = s.signals.Stats()
	log.Printf("signal round trips: total=%d success=%d error=%d avg=%s p50=%s p95=%s",
		s.signals.Total, s.signals.Success, s.signals.Error, avg, p50, p95)

	log.Printf("calls with a start winner: %d", s.wonRaces)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
