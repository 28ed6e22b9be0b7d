// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"log/slog"
)

const (
	messageKey   = "message"
	severityKey  = "severity"
	timestampKey = "timestamp"
	textTimeKey  = "time"
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
	LevelOff:   "OFF",
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	// logs having severity >= the configured value will be logged.
	case "TRACE":
		// Setting severity to -8, so that all the other levels are logged.
		programLevel.Set(LevelTrace)
	case "DEBUG":
		programLevel.Set(LevelDebug)
	case "INFO":
		programLevel.Set(LevelInfo)
	case "WARNING":
		programLevel.Set(LevelWarn)
	case "ERROR":
		programLevel.Set(LevelError)
	case "OFF":
		// Setting severity to 12, so that nothing is logged.
		programLevel.Set(LevelOff)
	}
}

func getHandlerOptions(levelVar *slog.LevelVar, prefix string, format string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = severityKey
				level := a.Value.Any().(slog.Level)
				label, exists := levelNames[level]
				if !exists {
					label = level.String()
				}
				a.Value = slog.StringValue(label)
			case slog.TimeKey:
				t := a.Value.Time()
				if format == "text" {
					a.Key = textTimeKey
					a.Value = slog.StringValue(t.Round(0).Format("01/02/2006 15:04:05.000000"))
				} else {
					a.Key = timestampKey
					a.Value = slog.GroupValue(
						slog.Int64("seconds", t.Unix()),
						slog.Int64("nanos", int64(t.Nanosecond())),
					)
				}
			case slog.MessageKey:
				a.Key = messageKey
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
			return a
		},
	}
}
