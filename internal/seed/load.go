package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/gigtrust/internal/domain/model"
	"github.com/okian/gigtrust/internal/domain/types"
	"github.com/okian/gigtrust/pkg/logger"
)

// LoadConfig configures a replay of events against a running server.
type LoadConfig struct {
	BaseURL string
	Workers int
	Timeout time.Duration
}

// LoadStats counts replay outcomes.
type LoadStats struct {
	Submitted    int64
	Accepted     int64
	Backpressure int64
	Failed       int64
	Duration     time.Duration
}

// ErrUnhealthy is returned when the target server fails its health check.
var ErrUnhealthy = errors.New("server unhealthy")

// GenerateRequests builds n event requests spread across users.
func GenerateRequests(users []string, role model.Role, n int, now time.Time) []types.EventRequest {
	out := make([]types.EventRequest, 0, n)
	if len(users) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		e := RandomEvent(pick(users), now)
		out = append(out, types.EventRequest{
			UserID:    e.UserID,
			Role:      string(role),
			EventType: string(e.EventType),
		})
	}
	return out
}

// Submit posts events to cfg.BaseURL/events with cfg.Workers concurrent
// senders.
func Submit(ctx context.Context, cfg LoadConfig, events []types.EventRequest) (LoadStats, error) {
	log := logger.Get().Named("load")
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if err := checkHealth(ctx, client, cfg.BaseURL); err != nil {
		return LoadStats{}, err
	}

	start := time.Now()
	url := cfg.BaseURL + "/events"
	var submitted, accepted, backpressure, failed atomic.Int64

	eventChan := make(chan types.EventRequest, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range eventChan {
				submitted.Add(1)
				switch submitOne(ctx, client, url, event) {
				case http.StatusAccepted:
					accepted.Add(1)
				case http.StatusTooManyRequests:
					backpressure.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(eventChan)
		for _, event := range events {
			select {
			case <-ctx.Done():
				return
			case eventChan <- event:
			}
		}
	}()
	wg.Wait()

	st := LoadStats{
		Submitted:    submitted.Load(),
		Accepted:     accepted.Load(),
		Backpressure: backpressure.Load(),
		Failed:       failed.Load(),
		Duration:     time.Since(start),
	}
	log.Info(ctx, "event replay completed",
		logger.Int64("submitted", st.Submitted),
		logger.Int64("accepted", st.Accepted),
		logger.Int64("backpressure", st.Backpressure),
		logger.Int64("failed", st.Failed),
		logger.Duration("duration", st.Duration),
	)
	return st, ctx.Err()
}

// submitOne posts event and returns the response status, or 0 on a
// transport failure.
func submitOne(ctx context.Context, client *http.Client, url string, event types.EventRequest) int {
	body, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}
