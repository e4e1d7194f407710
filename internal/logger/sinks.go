package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var sinkClient = &http.Client{Timeout: 10 * time.Second}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// SplunkSink posts batches to a Splunk HTTP Event Collector.
type SplunkSink struct {
	Endpoint string // base URL, e.g. https://splunk.example.com:8088
	Token    string
}

func (s *SplunkSink) Name() string { return "splunk" }

func (s *SplunkSink) Ship(ctx context.Context, entries []Entry) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range entries {
		// HEC accepts concatenated event objects in one request.
		event := map[string]any{
			"time":       float64(e.Timestamp.UnixMilli()) / 1000,
			"sourcetype": "_json",
			"event":      e,
		}
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("splunk: encode: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/services/collector/event", &body)
	if err != nil {
		return fmt.Errorf("splunk: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+s.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sinkClient.Do(req)
	if err != nil {
		return fmt.Errorf("splunk: %w", err)
	}
	defer drainAndClose(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("splunk: status %d", resp.StatusCode)
	}
	return nil
}

// DatadogSink posts batches to the Datadog logs intake API.
type DatadogSink struct {
	Endpoint string // e.g. https://http-intake.logs.datadoghq.com
	APIKey   string
	Service  string
}

func (d *DatadogSink) Name() string { return "datadog" }

func (d *DatadogSink) Ship(ctx context.Context, entries []Entry) error {
	logs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, map[string]any{
			"ddsource":  "ai-gateway",
			"service":   d.Service,
			"status":    e.Level,
			"message":   e.Message,
			"component": e.Component,
			"timestamp": e.Timestamp.UnixMilli(),
			"metadata":  e.Metadata,
		})
	}
	body, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("datadog: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint+"/api/v2/logs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("datadog: %w", err)
	}
	req.Header.Set("DD-API-KEY", d.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sinkClient.Do(req)
	if err != nil {
		return fmt.Errorf("datadog: %w", err)
	}
	defer drainAndClose(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("datadog: status %d", resp.StatusCode)
	}
	return nil
}

// ElasticSink writes batches through the Elasticsearch bulk API.
type ElasticSink struct {
	Endpoint string
	Index    string
	APIKey   string // optional
}

func (e *ElasticSink) Name() string { return "elastic" }

func (e *ElasticSink) Ship(ctx context.Context, entries []Entry) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	action := map[string]any{"index": map[string]any{"_index": e.Index}}
	for _, entry := range entries {
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("elastic: encode: %w", err)
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("elastic: encode: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint+"/_bulk", &body)
	if err != nil {
		return fmt.Errorf("elastic: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+e.APIKey)
	}

	resp, err := sinkClient.Do(req)
	if err != nil {
		return fmt.Errorf("elastic: %w", err)
	}
	defer drainAndClose(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("elastic: status %d", resp.StatusCode)
	}
	return nil
}

// ClickHouseSink appends batches to a ClickHouse table for long-term
// analytics queries.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// ClickHouseConfig carries connection settings for the analytics sink.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// NewClickHouseSink opens the native-protocol connection and verifies it
// with a ping.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "gateway_logs"
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (c *ClickHouseSink) Name() string { return "clickhouse" }

func (c *ClickHouseSink) Ship(ctx context.Context, entries []Entry) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare: %w", err)
	}
	for _, e := range entries {
		meta := ""
		if len(e.Metadata) > 0 {
			if b, err := json.Marshal(e.Metadata); err == nil {
				meta = string(b)
			}
		}
		if err := batch.Append(e.Timestamp, e.Level, e.Component, e.Message, meta); err != nil {
			return fmt.Errorf("clickhouse: append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send: %w", err)
	}
	return nil
}

// Close releases the ClickHouse connection.
func (c *ClickHouseSink) Close() error { return c.conn.Close() }
