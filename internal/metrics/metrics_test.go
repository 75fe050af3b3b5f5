package metrics

import (
	"context"
	"net/http"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/banshee-data/particulate.report/internal/pms"
	"github.com/banshee-data/particulate.report/internal/testutil"
)

// staticController returns a scripted status snapshot.
type staticController struct {
	status pms.Status
}

var _ pms.Controller = (*staticController)(nil)

func (s *staticController) Status() pms.Status                  { return s.status }
func (s *staticController) Sleep(context.Context) (bool, error) { return true, nil }
func (s *staticController) Wake(context.Context) (bool, error)  { return true, nil }

func TestStatusCollectorLifecycleSeries(t *testing.T) {
	ctrl := &staticController{status: pms.Status{
		State:          "preheating",
		PreheatSeconds: 12,
		FramesDecoded:  4,
		FramesRejected: 1,
		ReadTimeouts:   2,
		Wakes:          3,
		Sleeps:         2,
	}}
	c := NewStatusCollector(ctrl)

	expected := `
# HELP pms_frames_decoded_total Frames decoded and published since startup
# TYPE pms_frames_decoded_total counter
pms_frames_decoded_total 4
# HELP pms_frames_rejected_total Frames discarded for bad length or checksum since startup
# TYPE pms_frames_rejected_total counter
pms_frames_rejected_total 1
# HELP pms_lifecycle_state Sensor lifecycle state (1 for the active state, 0 otherwise)
# TYPE pms_lifecycle_state gauge
pms_lifecycle_state{state="preheating"} 1
pms_lifecycle_state{state="ready"} 0
pms_lifecycle_state{state="sleeping"} 0
# HELP pms_preheat_seconds_remaining Seconds until the fan has stabilised airflow and readings count as valid
# TYPE pms_preheat_seconds_remaining gauge
pms_preheat_seconds_remaining 12
`
	err := promtest.CollectAndCompare(c, strings.NewReader(expected),
		"pms_lifecycle_state",
		"pms_preheat_seconds_remaining",
		"pms_frames_decoded_total",
		"pms_frames_rejected_total",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestStatusCollectorReadingSeries(t *testing.T) {
	ctrl := &staticController{status: pms.Status{
		State: "ready",
		Ready: true,
		LastReading: &pms.Reading{
			Frame: pms.Frame{
				PM1Std:   10,
				PM25Std:  35,
				PM10Std:  40,
				PM1Atm:   8,
				PM25Atm:  28,
				PM10Atm:  33,
				Count0p3: 1200,
				Count0p5: 800,
				Count1p0: 150,
				Count2p5: 20,
				Count5p0: 5,
				Count10:  1,
			},
		},
	}}
	c := NewStatusCollector(ctrl)

	expected := `
# HELP pms_concentration_ug_m3 Particulate mass concentration from the latest reading (units: ug/m3)
# TYPE pms_concentration_ug_m3 gauge
pms_concentration_ug_m3{correction="atm",size="pm1"} 8
pms_concentration_ug_m3{correction="atm",size="pm10"} 33
pms_concentration_ug_m3{correction="atm",size="pm2.5"} 28
pms_concentration_ug_m3{correction="std",size="pm1"} 10
pms_concentration_ug_m3{correction="std",size="pm10"} 40
pms_concentration_ug_m3{correction="std",size="pm2.5"} 35
# HELP pms_particle_count_per_deciliter Particles at or above min_size per 0.1L of air, from the latest reading
# TYPE pms_particle_count_per_deciliter gauge
pms_particle_count_per_deciliter{min_size="0.3um"} 1200
pms_particle_count_per_deciliter{min_size="0.5um"} 800
pms_particle_count_per_deciliter{min_size="1.0um"} 150
pms_particle_count_per_deciliter{min_size="2.5um"} 20
pms_particle_count_per_deciliter{min_size="5.0um"} 5
pms_particle_count_per_deciliter{min_size="10um"} 1
`
	err := promtest.CollectAndCompare(c, strings.NewReader(expected),
		"pms_concentration_ug_m3",
		"pms_particle_count_per_deciliter",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestStatusCollectorNoReadingOmitsSeries(t *testing.T) {
	ctrl := &staticController{status: pms.Status{State: "preheating", PreheatSeconds: 30}}
	c := NewStatusCollector(ctrl)

	n := promtest.CollectAndCount(c, "pms_concentration_ug_m3", "pms_particle_count_per_deciliter")
	if n != 0 {
		t.Errorf("expected no reading series before first frame, got %d", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	ctrl := &staticController{status: pms.Status{State: "ready", Ready: true, FramesDecoded: 7}}
	reg := NewRegistry(ctrl)

	req := testutil.NewTestRequest(http.MethodGet, "/metrics")
	rec := testutil.NewTestRecorder()
	Handler(reg).ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, "pms_frames_decoded_total 7") {
		t.Errorf("expected frames counter in scrape output, got:\n%s", body)
	}
	if !strings.Contains(body, `pms_lifecycle_state{state="ready"} 1`) {
		t.Errorf("expected ready state gauge in scrape output, got:\n%s", body)
	}
}
