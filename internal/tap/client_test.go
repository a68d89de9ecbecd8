package tap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVOTable = `<?xml version="1.0" encoding="UTF-8"?>
<VOTABLE version="1.3" xmlns="http://www.ivoa.net/xml/VOTable/v1.3">
  <RESOURCE type="results">
    <INFO name="QUERY_STATUS" value="OK"/>
    <TABLE>
      <FIELD name="obs_id" datatype="char" arraysize="*"/>
      <FIELD name="s_ra" datatype="double" unit="deg"/>
      <FIELD name="t_exptime" datatype="double" unit="s"/>
      <DATA>
        <TABLEDATA>
          <TR><TD>obs-1</TD><TD>83.63</TD><TD>1200</TD></TR>
          <TR><TD>obs-2</TD><TD>10.5</TD><TD/></TR>
        </TABLEDATA>
      </DATA>
    </TABLE>
  </RESOURCE>
</VOTABLE>`

func jobXML(phase string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0" xmlns:xlink="http://www.w3.org/1999/xlink">
  <uws:jobId>job1</uws:jobId>
  <uws:phase>%s</uws:phase>
</uws:job>`, phase)
}

type fakeTAP struct {
	phase        string
	pollBody     string
	emptyRun     bool
	results      string
	submitted    atomic.Int32
	polls        atomic.Int32
	resultsCalls atomic.Int32
	lastQuery    url.Values
	lastWait     string
}

func (f *fakeTAP) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tap/async", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		r.ParseForm()
		f.lastQuery = r.PostForm
		f.submitted.Add(1)
		http.Redirect(w, r, "/tap/async/job1", http.StatusSeeOther)
	})
	mux.HandleFunc("/tap/async/job1", func(w http.ResponseWriter, r *http.Request) {
		if wait := r.URL.Query().Get("WAIT"); wait != "" {
			f.polls.Add(1)
			f.lastWait = wait
			if f.pollBody != "" {
				fmt.Fprint(w, f.pollBody)
				return
			}
			fmt.Fprint(w, jobXML(f.phase))
			return
		}
		fmt.Fprint(w, jobXML("QUEUED"))
	})
	mux.HandleFunc("/tap/async/job1/phase", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("PHASE") != "RUN" {
			http.Error(w, "bad phase", http.StatusBadRequest)
			return
		}
		if f.emptyRun {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, "/tap/async/job1", http.StatusSeeOther)
	})
	mux.HandleFunc("/tap/async/job1/results/result", func(w http.ResponseWriter, r *http.Request) {
		f.resultsCalls.Add(1)
		fmt.Fprint(w, f.results)
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeTAP) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	var logs bytes.Buffer
	client := NewClient(server.URL+"/tap/", server.Client()).
		WithWait(2 * time.Second).
		WithLogger(zerolog.New(&logs))
	return client, &logs
}

func TestQuery_Completed(t *testing.T) {
	fake := &fakeTAP{phase: "COMPLETED", results: sampleVOTable}
	client, _ := newTestClient(t, fake)

	table, err := client.Query(context.Background(), "SELECT * FROM ivoa.obscore")
	require.NoError(t, err)
	require.NotNil(t, table)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, "obs-1", table.Record(0).String("obs_id"))
	ra, ok := table.Record(0).Float("S_RA")
	assert.True(t, ok)
	assert.InDelta(t, 83.63, ra, 1e-9)
	_, ok = table.Record(1).Float("t_exptime")
	assert.False(t, ok)

	assert.Equal(t, "doQuery", fake.lastQuery.Get("REQUEST"))
	assert.Equal(t, "votable", fake.lastQuery.Get("FORMAT"))
	assert.Equal(t, "ADQL", fake.lastQuery.Get("LANG"))
	assert.Equal(t, "SELECT * FROM ivoa.obscore", fake.lastQuery.Get("QUERY"))
	assert.Equal(t, "2", fake.lastWait)
	assert.EqualValues(t, 1, fake.polls.Load())
}

func TestQuery_NotCompletedReturnsNil(t *testing.T) {
	for _, phase := range []string{"EXECUTING", "QUEUED", "ERROR", "ABORTED"} {
		t.Run(phase, func(t *testing.T) {
			fake := &fakeTAP{phase: phase, results: sampleVOTable}
			client, logs := newTestClient(t, fake)

			table, err := client.Query(context.Background(), "SELECT 1")
			assert.NoError(t, err)
			assert.Nil(t, table)
			assert.EqualValues(t, 1, fake.polls.Load(), "exactly one bounded poll")
			assert.EqualValues(t, 0, fake.resultsCalls.Load())
			assert.Contains(t, logs.String(), phase)
		})
	}
}

const failedJobXML = `<?xml version="1.0" encoding="UTF-8"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobId>job1</uws:jobId>
  <uws:phase>ERROR</uws:phase>
  <uws:errorSummary type="fatal" hasDetail="false">
    <uws:message>Table ivoa.obscore does not exist</uws:message>
  </uws:errorSummary>
</uws:job>`

func TestQuery_ErrorSummaryLoggedOnce(t *testing.T) {
	fake := &fakeTAP{pollBody: failedJobXML, results: sampleVOTable}
	client, logs := newTestClient(t, fake)

	table, err := client.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Nil(t, table)

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, `"level":"warn"`))
	assert.Contains(t, out, `"error_summary":"Table ivoa.obscore does not exist"`)
	assert.Contains(t, out, `"phase":"ERROR"`)
}

func TestQuery_EmptyRunBodyMeansNoData(t *testing.T) {
	fake := &fakeTAP{phase: "COMPLETED", emptyRun: true, results: sampleVOTable}
	client, logs := newTestClient(t, fake)

	table, err := client.Query(context.Background(), "SELECT 1")
	assert.NoError(t, err)
	assert.Nil(t, table)
	assert.EqualValues(t, 0, fake.polls.Load())
	assert.NotContains(t, logs.String(), `"level":"warn"`)
}

func TestQuery_MalformedVOTable(t *testing.T) {
	fake := &fakeTAP{phase: "COMPLETED", results: "<html>gateway error</html>"}
	client, _ := newTestClient(t, fake)

	_, err := client.Query(context.Background(), "SELECT 1")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "results", perr.Op)
}

func TestPollOnce_MalformedUWS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<job><phase>COMPLETED</phase></job>`)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.PollOnce(context.Background(), JobHandle(server.URL+"/async/x"))
	var perr *ProtocolError
	assert.True(t, errors.As(err, &perr), "phase outside the UWS namespace is not accepted")
}

func TestQuery_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client := NewClient(addr, nil)
	_, err := client.Query(context.Background(), "SELECT 1")
	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "submit", terr.Op)
}

func TestQuery_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	_, err := client.Query(context.Background(), "SELECT 1")
	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Contains(t, terr.Error(), "503")
}

func TestSubmit_LocationWithoutRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/tap/async/abc")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/tap", server.Client())
	job, err := client.Submit(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, JobHandle(server.URL+"/tap/async/abc"), job)
}

type phaseCounter struct {
	phases []string
}

func (p *phaseCounter) TAPPhase(phase string) {
	p.phases = append(p.phases, phase)
}

func TestQuery_RecordsPhase(t *testing.T) {
	fake := &fakeTAP{phase: "EXECUTING"}
	client, _ := newTestClient(t, fake)
	rec := &phaseCounter{}
	client.WithPhaseRecorder(rec)

	_, err := client.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"EXECUTING"}, rec.phases)
}
