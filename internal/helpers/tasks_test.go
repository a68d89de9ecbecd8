package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cankoe/obs-schedule-ingest/internal/catalog"
	"github.com/cankoe/obs-schedule-ingest/internal/config"
	"github.com/cankoe/obs-schedule-ingest/internal/metrics"
	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/publish"
	"github.com/cankoe/obs-schedule-ingest/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobTemplate = `<?xml version="1.0"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0"><uws:jobId>j1</uws:jobId><uws:phase>%s</uws:phase></uws:job>`

const rows = `<?xml version="1.0"?>
<VOTABLE xmlns="http://www.ivoa.net/xml/VOTable/v1.3"><RESOURCE type="results"><TABLE>
<FIELD name="obs_id"/><FIELD name="target_name"/><FIELD name="s_ra"/><FIELD name="s_dec"/>
<FIELD name="t_min"/><FIELD name="t_max"/><FIELD name="t_exptime"/><FIELD name="instrument_name"/>
<FIELD name="energy_bandpassname"/><FIELD name="dataproduct_type"/><FIELD name="em_min"/><FIELD name="em_max"/>
<DATA><TABLEDATA>
<TR><TD>jw-1</TD><TD>NGC 628</TD><TD>24.17</TD><TD>15.78</TD><TD>60370.5</TD><TD>60370.6</TD><TD>4000</TD><TD>NIRCAM</TD><TD>F200W</TD><TD>image</TD><TD></TD><TD></TD></TR>
</TABLEDATA></DATA></TABLE></RESOURCE></VOTABLE>`

const catalogYAML = `
catalogs:
  jwst:
    - instrument: NIRCAM
      filter: F200W
      instrument_id: 21
      bandpass: {kind: wavelength, min: 1755, max: 2227, unit: nm, filter_name: F200W}
`

type fakeUpstream struct {
	phase string

	mu        sync.Mutex
	logins    int
	schedules map[string]models.Schedule
	posts     int
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tap/async", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/tap/async/j1", http.StatusSeeOther)
	})
	mux.HandleFunc("/tap/async/j1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, jobTemplate, f.phase)
	})
	mux.HandleFunc("/tap/async/j1/phase", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/tap/async/j1", http.StatusSeeOther)
	})
	mux.HandleFunc("/tap/async/j1/results/result", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rows)
	})
	mux.HandleFunc("/agg/auth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/agg/schedule", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var s models.Schedule
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.posts++
		if _, ok := f.schedules[s.Name]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.schedules[s.Name] = s
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func newComponents(t *testing.T, up *fakeUpstream) *AppComponents {
	t.Helper()
	server := httptest.NewServer(up.handler())
	t.Cleanup(server.Close)

	cfg := &config.Config{}
	cfg.Server.URL = server.URL + "/agg"
	cfg.Server.TokenPath = "/auth/token"
	cfg.Server.Username = "ingest"
	cfg.Server.Password = "pw"
	cfg.TAP.WaitSeconds = 1
	cfg.Tasks = []config.TaskConfig{{
		Name:        "jwst",
		Source:      "obscore",
		TAPURL:      server.URL + "/tap",
		Catalog:     "jwst",
		TelescopeID: 12,
		Cron:        "@daily",
	}}

	cats, err := catalog.Parse([]byte(catalogYAML))
	require.NoError(t, err)

	c := &AppComponents{
		Config:     cfg,
		HTTPClient: server.Client(),
		Catalogs:   cats,
		Metrics:    metrics.NewNoopSink(),
		Status:     status.NewMemoryStore(),
	}
	c.Tokens = NewTokenSource(cfg, c.HTTPClient)
	c.Publisher = publish.NewClient(cfg.Server.URL, c.HTTPClient, c.Tokens)
	c.Recorder = status.Multi{c.Status}
	return c
}

func TestBuildTasks_EndToEnd(t *testing.T) {
	up := &fakeUpstream{phase: "COMPLETED", schedules: map[string]models.Schedule{}}
	c := newComponents(t, up)

	tasks, err := c.BuildTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "jwst", tasks[0].Name)

	ctx := context.Background()
	tasks[0].Run(ctx)
	tasks[0].Run(ctx)

	assert.Equal(t, 1, up.logins)
	assert.Equal(t, 2, up.posts)
	require.Len(t, up.schedules, 1)
	for _, s := range up.schedules {
		assert.Equal(t, 12, s.TelescopeID)
		require.Len(t, s.Observations, 1)
		assert.Equal(t, 21, s.Observations[0].InstrumentID)
		assert.Equal(t, "jw-1", s.Observations[0].ExternalObservationID)
	}

	rec, ok, err := c.Status.Latest(ctx, "jwst")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RunOutcomeSuccess, rec.Outcome)
	assert.Equal(t, 1, rec.AlreadyExisted)
}

func TestBuildTasks_TAPNotCompleted(t *testing.T) {
	up := &fakeUpstream{phase: "EXECUTING", schedules: map[string]models.Schedule{}}
	c := newComponents(t, up)

	tasks, err := c.BuildTasks()
	require.NoError(t, err)
	tasks[0].Run(context.Background())

	assert.Zero(t, up.posts)
	rec, ok, _ := c.Status.Latest(context.Background(), "jwst")
	require.True(t, ok)
	assert.Equal(t, models.RunOutcomeNoData, rec.Outcome)
}

func TestNewSource_UnknownCatalog(t *testing.T) {
	up := &fakeUpstream{schedules: map[string]models.Schedule{}}
	c := newComponents(t, up)
	c.Config.Tasks[0].Catalog = "missing"

	_, err := c.BuildTasks()
	assert.Error(t, err)
}

func TestNewTokenSource_Static(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Token = "fixed"
	tok, err := NewTokenSource(cfg, nil).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", tok)
}
