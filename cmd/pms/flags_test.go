package main

import (
	"flag"
	"testing"
	"time"

	"github.com/banshee-data/particulate.report/internal/pms"
)

// TestFlagDefaults verifies the daemon flags exist and carry the
// documented defaults.
func TestFlagDefaults(t *testing.T) {
	if pollEvery == nil {
		t.Fatal("poll flag not defined")
	}
	if *pollEvery != pms.DefaultPollInterval {
		t.Errorf("expected poll default %v, got %v", pms.DefaultPollInterval, *pollEvery)
	}

	if listen == nil || *listen != ":8080" {
		t.Errorf("expected listen default :8080, got %v", *listen)
	}
	if dbPath == nil || *dbPath != "particulate.db" {
		t.Errorf("expected db-path default particulate.db, got %v", *dbPath)
	}
	if mqttTopic == nil || *mqttTopic != "sensors/particulate" {
		t.Errorf("expected mqtt-topic default sensors/particulate, got %v", *mqttTopic)
	}
	if mqttBroker == nil || *mqttBroker != "" {
		t.Errorf("expected mqtt publishing off by default, got %v", *mqttBroker)
	}
	if gpioPin == nil || *gpioPin != "" {
		t.Errorf("expected power control off by default, got %v", *gpioPin)
	}
	if startAsleep == nil || *startAsleep {
		t.Error("expected start-asleep default false")
	}
}

// TestFlagParsing verifies that the flags can be parsed correctly.
// This uses a separate FlagSet to avoid polluting the global flags.
func TestFlagParsing(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantAsleep bool
		wantPoll   time.Duration
	}{
		{
			name:       "defaults",
			args:       []string{},
			wantAsleep: false,
			wantPoll:   pms.DefaultPollInterval,
		},
		{
			name:       "start asleep set without value",
			args:       []string{"--start-asleep"},
			wantAsleep: true,
			wantPoll:   pms.DefaultPollInterval,
		},
		{
			name:       "poll interval override",
			args:       []string{"--poll=2500ms"},
			wantAsleep: false,
			wantPoll:   2500 * time.Millisecond,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			asleepFlag := fs.Bool("start-asleep", false, "Power the sensor down at startup")
			pollFlag := fs.Duration("poll", pms.DefaultPollInterval, "Interval between sensor polls")

			if err := fs.Parse(tc.args); err != nil {
				t.Fatalf("failed to parse flags: %v", err)
			}

			if *asleepFlag != tc.wantAsleep {
				t.Errorf("start-asleep = %v, want %v", *asleepFlag, tc.wantAsleep)
			}
			if *pollFlag != tc.wantPoll {
				t.Errorf("poll = %v, want %v", *pollFlag, tc.wantPoll)
			}
		})
	}
}
