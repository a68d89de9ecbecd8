// Package tap is a client for IVOA Table Access Protocol services using the
// asynchronous UWS job pattern.
//
// A query makes one bounded wait for its job. A job that is not COMPLETED by then
// yields no table, and the caller tries again on its next scheduled run.
package tap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultWait = 10 * time.Second

// JobHandle is the URL of a UWS job.
type JobHandle string

// ProtocolError is a UWS or VOTable document the client could not interpret.
type ProtocolError struct {
	Op  string
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tap %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// PhaseRecorder receives the phase observed by each poll.
type PhaseRecorder interface {
	TAPPhase(phase string)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	wait       time.Duration
	logger     zerolog.Logger
	phases     PhaseRecorder
}

// NewClient returns a client for the TAP service rooted at baseURL (the URL that
// "/async" is appended to).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(0, "")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		wait:       DefaultWait,
		logger:     log.Logger,
	}
}

// WithWait sets the WAIT sent with the single poll. It is rounded down to whole seconds.
func (c *Client) WithWait(wait time.Duration) *Client {
	c.wait = wait
	return c
}

func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger
	return c
}

func (c *Client) WithPhaseRecorder(r PhaseRecorder) *Client {
	c.phases = r
	return c
}

// Submit creates a job for the ADQL query and returns its handle.
func (c *Client) Submit(ctx context.Context, adql string) (JobHandle, error) {
	endpoint := c.baseURL + "/async"
	form := url.Values{
		"REQUEST": {"doQuery"},
		"FORMAT":  {"votable"},
		"LANG":    {"ADQL"},
		"QUERY":   {adql},
	}
	resp, _, err := c.do(ctx, "submit", http.MethodPost, endpoint, form)
	if err != nil {
		return "", err
	}

	// A followed 303 leaves the job URL on the final request; a server that answers
	// without redirecting points at the job with Location.
	jobURL := resp.Request.URL
	if loc, err := resp.Location(); err == nil {
		jobURL = loc
	}
	if jobURL.String() == endpoint {
		return "", &ProtocolError{Op: "submit", URL: endpoint, Err: fmt.Errorf("service did not return a job URL")}
	}
	job := JobHandle(jobURL.String())
	c.logger.Debug().Str("job", string(job)).Msg("TAP job submitted")
	return job, nil
}

// Run asks the service to start the job. It reports false when the response body is
// empty, meaning the job never executed.
func (c *Client) Run(ctx context.Context, job JobHandle) (bool, error) {
	_, body, err := c.do(ctx, "run", http.MethodPost, string(job)+"/phase", url.Values{"PHASE": {"RUN"}})
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(body)) > 0, nil
}

// PollOnce performs one blocking wait of up to the configured WAIT and returns the
// job phase at the end of it.
func (c *Client) PollOnce(ctx context.Context, job JobHandle) (Phase, error) {
	st, err := c.poll(ctx, job)
	return st.Phase, err
}

func (c *Client) poll(ctx context.Context, job JobHandle) (jobStatus, error) {
	u, err := url.Parse(string(job))
	if err != nil {
		return jobStatus{}, &ProtocolError{Op: "poll", URL: string(job), Err: err}
	}
	q := u.Query()
	q.Set("WAIT", strconv.Itoa(int(c.wait/time.Second)))
	u.RawQuery = q.Encode()

	_, body, err := c.do(ctx, "poll", http.MethodGet, u.String(), nil)
	if err != nil {
		return jobStatus{}, err
	}
	st, err := parseJob(body)
	if err != nil {
		return jobStatus{}, &ProtocolError{Op: "poll", URL: string(job), Err: err}
	}
	return st, nil
}

// FetchResults downloads and parses the job's result table.
func (c *Client) FetchResults(ctx context.Context, job JobHandle) (*Table, error) {
	_, body, err := c.do(ctx, "results", http.MethodGet, string(job)+"/results/result", nil)
	if err != nil {
		return nil, err
	}
	table, err := ParseVOTable(body)
	if err != nil {
		return nil, &ProtocolError{Op: "results", URL: string(job), Err: err}
	}
	return table, nil
}

// Query runs adql as an async job. It returns a nil table and a nil error when the
// job never ran or was not COMPLETED after the single poll; errors are reserved for
// transport failures and malformed documents.
func (c *Client) Query(ctx context.Context, adql string) (*Table, error) {
	job, err := c.Submit(ctx, adql)
	if err != nil {
		return nil, err
	}

	started, err := c.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	if !started {
		c.logger.Info().Str("job", string(job)).Msg("TAP job did not start, no data this cycle")
		return nil, nil
	}

	st, err := c.poll(ctx, job)
	if err != nil {
		return nil, err
	}
	phase := st.Phase
	if c.phases != nil {
		c.phases.TAPPhase(string(phase))
	}

	switch {
	case phase == PhaseCompleted:
	case phase.Failed():
		event := c.logger.Warn().Str("job", string(job)).Str("phase", string(phase))
		if st.ErrorMessage != "" {
			event = event.Str("error_summary", st.ErrorMessage)
		}
		event.Msg("TAP job failed, no data this cycle")
		return nil, nil
	default:
		c.logger.Info().Str("job", string(job)).Str("phase", string(phase)).
			Dur("wait", c.wait).Msg("TAP job not completed within wait window, deferring to next run")
		return nil, nil
	}

	table, err := c.FetchResults(ctx, job)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("job", string(job)).Int("rows", table.Len()).Msg("TAP results fetched")
	return table, nil
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, form url.Values) (*http.Response, []byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, nil, &transport.Error{Op: op, URL: rawURL, Err: err}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &transport.Error{Op: op, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := transport.ReadBody(resp)
	if err != nil {
		return nil, nil, &transport.Error{Op: op, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, nil, &transport.Error{Op: op, URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return resp, data, nil
}
