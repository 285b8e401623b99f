// Package obslog provides structured JSON event logging in the same idiom
// used throughout the donor services: a bare stdlib *log.Logger writing
// single-line JSON objects, no external logging library.
package obslog

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

// LogEvent writes a single JSON log line carrying level, event name, the
// RunInfo attached to ctx (if any), and the supplied fields.
func LogEvent(ctx context.Context, level, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.Market != "" {
		payload["market"] = info.Market
	}
	if info.Provider != "" {
		payload["provider"] = info.Provider
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}
	if info.Timeframe != "" {
		payload["timeframe"] = info.Timeframe
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if key == "credentials" {
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
