package cloudstack_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	"github.com/fivetwenty-io/cloudcall/internal/logging"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
	"github.com/fivetwenty-io/cloudcall/pkg/compute"
	"github.com/fivetwenty-io/cloudcall/pkg/compute/cloudstack"
)

const (
	apiKey    = "api-key"
	secretKey = "secret-key"
)

// fakeCloud is a CloudStack API with verified signatures. Each job reports
// pending for pendingPolls status checks before reaching its final state.
type fakeCloud struct {
	*httptest.Server

	mu           sync.Mutex
	pendingPolls int
	polls        map[string]int
	final        map[string]string
	commands     []string
	zones        []string
	noVMs        bool
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()

	f := &fakeCloud{pendingPolls: 2, polls: make(map[string]int), final: make(map[string]string)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)

	return f
}

func verifySignature(rawQuery string) bool {
	query := cloudcall.NewOrderedValues()

	var signature string

	for _, part := range strings.Split(rawQuery, "&") {
		key, value, _ := strings.Cut(part, "=")
		value, _ = url.QueryUnescape(value)

		if key == filters.ParamSignature {
			signature = value

			continue
		}

		query.Add(key, value)
	}

	return query.Get(filters.ParamAPIKey) == apiKey && signature == filters.Sign(query, secretKey)
}

func (f *fakeCloud) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	if !verifySignature(r.URL.RawQuery) {
		f.write(w, http.StatusUnauthorized, map[string]any{
			"errorresponse": map[string]any{"errorcode": 401, "errortext": "unable to verify user credentials"},
		})

		return
	}

	query := r.URL.Query()
	command := query.Get("command")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, command)
	f.zones = append(f.zones, query.Get("zoneid"))

	switch command {
	case "deployVirtualMachine", "rebootVirtualMachine", "destroyVirtualMachine":
		jobID := fmt.Sprintf("job-%d", len(f.commands))
		f.final[jobID] = command

		f.write(w, http.StatusOK, map[string]any{
			strings.ToLower(command) + "response": map[string]any{"id": "vm-1", "jobid": jobID},
		})
	case "queryAsyncJobResult":
		f.queryJob(w, query.Get("jobid"))
	case "listVirtualMachines":
		if f.noVMs {
			f.write(w, http.StatusOK, map[string]any{"listvirtualmachinesresponse": map[string]any{}})

			return
		}

		f.write(w, http.StatusOK, map[string]any{"listvirtualmachinesresponse": map[string]any{
			"count": 2,
			"virtualmachine": []any{
				map[string]any{"id": "vm-1", "name": "i-1", "displayname": "web", "state": "Running"},
				map[string]any{"id": "vm-2", "name": "i-2", "state": "Stopped"},
			},
		}})
	case "listAsyncJobs":
		f.write(w, http.StatusNotFound, map[string]any{})
	default:
		f.write(w, http.StatusBadRequest, map[string]any{})
	}
}

func (f *fakeCloud) queryJob(w http.ResponseWriter, jobID string) {
	command, ok := f.final[jobID]
	if !ok {
		f.write(w, http.StatusNotFound, map[string]any{})

		return
	}

	f.polls[jobID]++

	job := map[string]any{"jobid": jobID, "jobstatus": 0}

	if f.polls[jobID] > f.pendingPolls {
		switch command {
		case "destroyVirtualMachine":
			job["jobstatus"] = 2
			job["jobresult"] = map[string]any{"errorcode": 431, "errortext": "vm is not in a destroyable state"}
		default:
			job["jobstatus"] = 1
			job["jobresult"] = map[string]any{"virtualmachine": map[string]any{"id": "vm-1", "state": "Running"}}
		}
	}

	f.write(w, http.StatusOK, map[string]any{"queryasyncjobresultresponse": job})
}

func newProvider(t *testing.T, endpoint string, autoTrack bool) (compute.Provider, *cloudclient.Client) {
	t.Helper()

	return newZonedProvider(t, endpoint, autoTrack, "")
}

func newZonedProvider(t *testing.T, endpoint string, autoTrack bool, zone string) (compute.Provider, *cloudclient.Client) {
	t.Helper()

	cfg := cloudcall.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.Zone = zone
	cfg.Credentials.APIKey = apiKey
	cfg.Credentials.SecretKey = secretKey
	cfg.Poll.Interval = constants.QuickPollInterval
	cfg.Poll.AutoTrack = autoTrack

	cli, err := cloudclient.New(context.Background(), cfg, cloudclient.WithLogger(logging.NewZapLogger(nil)))
	require.NoError(t, err)

	t.Cleanup(func() { _ = cli.Close() })

	provider, err := cloudstack.New(context.Background(), cli)
	require.NoError(t, err)

	return provider, cli
}

func TestOperations(t *testing.T) {
	t.Parallel()

	ops, err := cloudstack.Operations()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"deployVirtualMachine", "destroyVirtualMachine", "listAsyncJobs",
		"listVirtualMachines", "queryAsyncJobResult", "rebootVirtualMachine",
	}, ops.Names())

	deploy := ops.MustGet("deployVirtualMachine")
	assert.Equal(t, "queryAsyncJobResult", deploy.StatusCheck.Operation.Name)
	assert.Equal(t, []string{constants.FilterUserAgent, constants.FilterRequestID, constants.FilterQuerySigner}, deploy.Filters)
	assert.Equal(t, cloudcall.Pair{Key: "response", Value: "json"}, deploy.StaticQuery[len(deploy.StaticQuery)-1])
}

func TestProvider_SubmitTracksJob(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, cli := newProvider(t, cloud.URL, true)

	result, err := provider.Submit(context.Background(), compute.Template{
		Name:    "web",
		Zone:    "zone-1",
		Image:   "tpl-1",
		Size:    "small",
		Options: map[string]string{"keypair": "ops"},
	}).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "vm-1", "state": "Running"}, result.Value)

	cloud.mu.Lock()
	defer cloud.mu.Unlock()

	assert.Equal(t, []string{"deployVirtualMachine", "queryAsyncJobResult", "queryAsyncJobResult", "queryAsyncJobResult"}, cloud.commands)
	assert.Equal(t, int64(4), cli.Calls())
}

func TestProvider_SubmitDefaultZone(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, _ := newZonedProvider(t, cloud.URL, false, "zone-default")

	_, err := provider.Submit(context.Background(), compute.Template{Image: "tpl-1", Size: "small"}).Await(5 * time.Second)
	require.NoError(t, err)

	_, err = provider.Submit(context.Background(), compute.Template{Zone: "zone-2", Image: "tpl-1", Size: "small"}).Await(5 * time.Second)
	require.NoError(t, err)

	cloud.mu.Lock()
	defer cloud.mu.Unlock()

	assert.Equal(t, []string{"zone-default", "zone-2"}, cloud.zones)
}

func TestProvider_SubmitWithoutZone(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, cli := newProvider(t, cloud.URL, true)

	_, err := provider.Submit(context.Background(), compute.Template{Image: "tpl-1", Size: "small"}).Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrInvalidArguments)
	require.ErrorIs(t, err, constants.ErrZoneRequired)
	assert.Zero(t, cli.Calls())

	cloud.mu.Lock()
	defer cloud.mu.Unlock()

	assert.Empty(t, cloud.commands)
}

func TestProvider_ManualPoll(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, _ := newProvider(t, cloud.URL, false)

	submitted, err := provider.Reboot(context.Background(), "vm-1").Await(5 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, submitted.Job)
	assert.Equal(t, "job-1", submitted.Job.ID)

	result, err := provider.Poll(context.Background(), submitted.Job).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Running", result.Value.(map[string]any)["state"])
}

func TestProvider_FailedJob(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	cloud.pendingPolls = 0
	provider, _ := newProvider(t, cloud.URL, true)

	_, err := provider.Destroy(context.Background(), "vm-1").Await(5 * time.Second)
	require.ErrorIs(t, err, cloudcall.ErrInvalidArguments)
	assert.Contains(t, err.Error(), "vm is not in a destroyable state")
}

func TestProvider_List(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, _ := newProvider(t, cloud.URL, true)

	result, err := provider.List(context.Background()).Await(5 * time.Second)
	require.NoError(t, err)

	nodes, err := provider.Nodes(result)
	require.NoError(t, err)
	assert.Equal(t, []compute.Node{
		{ID: "vm-1", Name: "web", State: "Running"},
		{ID: "vm-2", Name: "i-2", State: "Stopped"},
	}, nodes)

	cloud.mu.Lock()
	cloud.noVMs = true
	cloud.mu.Unlock()

	result, err = provider.List(context.Background()).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Empty(t, result.Items())
}

func TestProvider_AbsorbedNotFound(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)
	provider, _ := newProvider(t, cloud.URL, true)
	cs := provider.(*cloudstack.Provider)

	jobs, err := cs.ListAsyncJobs(context.Background(), cloudcall.NewOptions().Query("account", "ops")).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Empty(t, jobs.Items())

	job, err := cs.Job(context.Background(), "job-unknown").Await(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, job.Absent)
}

func TestProvider_BadCredentials(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t)

	cli, err := cloudclient.NewWithAPIKey(context.Background(), cloud.URL, apiKey, "wrong", cloudclient.WithLogger(logging.NewZapLogger(nil)))
	require.NoError(t, err)

	provider, err := cloudstack.New(context.Background(), cli)
	require.NoError(t, err)

	_, err = provider.List(context.Background()).Await(5 * time.Second)
	require.ErrorIs(t, err, cloudcall.ErrUnauthorized)
}

func TestStatusDecoder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   any
		want    cloudcall.JobStatus
		kind    cloudcall.ErrorKind
		wantErr bool
	}{
		{"pending", map[string]any{"jobstatus": json.Number("0")}, cloudcall.JobInProgress, "", false},
		{"succeeded", map[string]any{"jobstatus": json.Number("1"), "jobresult": map[string]any{}}, cloudcall.JobSucceeded, "", false},
		{"failed not found", map[string]any{"jobstatus": json.Number("2"), "jobresult": map[string]any{"errorcode": json.Number("404")}}, cloudcall.JobFailed, cloudcall.KindNotFound, false},
		{"failed in use", map[string]any{"jobstatus": json.Number("2"), "jobresult": map[string]any{"errorcode": json.Number("536")}}, cloudcall.JobFailed, cloudcall.KindConflict, false},
		{"unknown status", map[string]any{"jobstatus": json.Number("7")}, "", "", true},
		{"missing status", map[string]any{"jobid": "x"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			report, err := cloudstack.StatusDecoder.Decode(&cloudcall.Result{Value: tt.value})
			if tt.wantErr {
				require.ErrorIs(t, err, constants.ErrUnexpectedPayload)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Status)

			if tt.kind != "" {
				assert.Equal(t, tt.kind, report.Error.Kind)
			}
		})
	}
}
