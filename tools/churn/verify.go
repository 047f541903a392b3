package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// activityEvent is the subset of a captured event the verifier checks
type activityEvent struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Table    string `json:"table"`
	RecordID string `json:"recordId"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Events  []activityEvent `json:"events"`
}

// AdminClient talks to the tablewatch admin API
type AdminClient struct {
	http       *resty.Client
	connection string
}

func NewAdminClient(baseURL, connection, token string) *AdminClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &AdminClient{http: c, connection: connection}
}

// StartMonitoring (re)starts the session so the workload table is instrumented
func (c *AdminClient) StartMonitoring(ctx context.Context) (string, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("connection", c.connection).
		SetResult(&out).
		SetError(&out).
		Post("/monitor/{connection}/start")
	if err != nil {
		return "", err
	}
	if resp.IsError() || !out.Success {
		return "", apiErr(resp, out)
	}
	return out.Message, nil
}

// ActivityAfter returns logged events with id greater than since
func (c *AdminClient) ActivityAfter(ctx context.Context, since int64) ([]activityEvent, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("connection", c.connection).
		SetQueryParam("since", fmt.Sprint(since)).
		SetResult(&out).
		SetError(&out).
		Get("/monitor/{connection}/activity")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !out.Success {
		return nil, apiErr(resp, out)
	}
	return out.Events, nil
}

func apiErr(resp *resty.Response, out apiResponse) error {
	if out.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status(), out.Message)
	}
	return fmt.Errorf("%s", resp.Status())
}

// activitySource is satisfied by AdminClient
type activitySource interface {
	ActivityAfter(ctx context.Context, since int64) ([]activityEvent, error)
}

// VerifyResult summarizes a capture check
type VerifyResult struct {
	Expected   int
	Captured   int
	Unexpected int      // events on the table the ledger did not account for
	Missing    []string // first unmatched "ACTION:recordId" entries
	LastID     int64
}

// Complete reports whether every expected write was captured
func (r *VerifyResult) Complete() bool {
	return r.Captured == r.Expected
}

// Verifier drains the activity log after a high water mark and checks events
// for one table off against a ledger
type Verifier struct {
	source       activitySource
	table        string
	timeout      time.Duration
	pollInterval time.Duration
}

func NewVerifier(source activitySource, table string, timeout, pollInterval time.Duration) *Verifier {
	return &Verifier{
		source:       source,
		table:        table,
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// Verify pages through the log until the ledger is empty or the timeout hits
func (v *Verifier) Verify(ctx context.Context, ledger *Ledger, since int64) (*VerifyResult, error) {
	const maxMissing = 10

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result := &VerifyResult{Expected: ledger.Outstanding(), LastID: since}
	for ledger.Outstanding() > 0 {
		events, err := v.source.ActivityAfter(ctx, result.LastID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("failed to read activity after %d: %w", result.LastID, err)
		}

		for _, ev := range events {
			result.LastID = max(result.LastID, ev.ID)
			if ev.Table != v.table {
				continue
			}
			if ledger.Match(ev.Type, ev.RecordID) {
				result.Captured++
			} else {
				result.Unexpected++
			}
		}

		// a non-empty page means there may be more right away
		if len(events) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(v.pollInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.Missing = ledger.Missing(maxMissing)
	return result, nil
}

// PrintVerify prints a verification summary
func PrintVerify(r *VerifyResult) {
	fmt.Println()
	fmt.Println("Capture verification:")
	fmt.Printf("  Expected:   %d\n", r.Expected)
	fmt.Printf("  Captured:   %d\n", r.Captured)
	fmt.Printf("  Unexpected: %d\n", r.Unexpected)
	fmt.Printf("  Last id:    %d\n", r.LastID)
	if len(r.Missing) > 0 {
		fmt.Println("  Missing (first entries):")
		for _, m := range r.Missing {
			fmt.Printf("    %s\n", m)
		}
	}
	if r.Complete() {
		fmt.Println("  Result:     OK")
	} else {
		fmt.Println("  Result:     INCOMPLETE")
	}
}
