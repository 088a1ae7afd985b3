package compliance

import (
	"archive/tar"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/complyscan/internal/api"
	"github.com/anstrom/complyscan/internal/archive"
	"github.com/anstrom/complyscan/internal/config"
	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
	"github.com/anstrom/complyscan/internal/oscap"
	"github.com/anstrom/complyscan/internal/process"
	"github.com/anstrom/complyscan/internal/process/mocks"
	"github.com/anstrom/complyscan/internal/results"
)

const (
	cisProfile  = "xccdf_org.ssgproject.content_profile_cis"
	osppProfile = "xccdf_org.ssgproject.content_profile_ospp"
	datastream  = "/usr/share/xml/scap/ssg/content/ssg-rhel8-ds.xml"

	twoPolicies = `{"data": [
		{"id": "p-cis", "ref_id": "` + cisProfile + `", "os_minor_version": "6"},
		{"id": "p-ospp", "ref_id": "` + osppProfile + `"}
	]}`

	scanResults = `<?xml version="1.0" encoding="UTF-8"?>
<Benchmark xmlns="http://checklists.nist.gov/xccdf/1.2" id="xccdf_org.ssgproject.content_benchmark_RHEL-8">
  <version>0.9</version>
  <TestResult id="xccdf_org.open-scap_testresult_profile">
    <target>host.example.com</target>
    <target-address>10.0.0.5</target-address>
    <target-facts>
      <fact name="urn:xccdf:fact:asset:identifier:ipv4" type="string">10.0.0.5</fact>
    </target-facts>
  </TestResult>
  <Group id="nested">
    <version>0.9</version>
  </Group>
</Benchmark>
`
)

type fakeRecorder struct {
	mu        sync.Mutex
	runs      []string
	policies  map[string]string
	tailoring []string
	repairs   int
}

func (f *fakeRecorder) RunFinished(status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, status)
}

func (f *fakeRecorder) PolicyFinished(refID, result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.policies == nil {
		f.policies = map[string]string{}
	}
	f.policies[refID] = result
}

func (f *fakeRecorder) TailoringOutcome(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tailoring = append(f.tailoring, outcome)
}

func (f *fakeRecorder) ResultRepaired() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repairs++
}

// scanCall records one oscap invocation.
type scanCall struct {
	profile         string
	tailoring       string
	tailoringExists bool
}

type harness struct {
	t              *testing.T
	server         *httptest.Server
	policiesStatus int
	policiesBody   string
	hostsBody      string

	runner      *mocks.MockRunner
	ssgVersion  string
	oscapExit   int
	unknownRefs map[string]bool
	scans       []scanCall

	tempDir     string
	archiveBase string
	recorder    *fakeRecorder
	orch        *Orchestrator
}

func newHarness(t *testing.T, obfuscate bool) *harness {
	t.Helper()
	h := &harness{
		t:              t,
		policiesStatus: http.StatusOK,
		policiesBody:   twoPolicies,
		hostsBody:      `{"total": 1, "results": [{"id": "inv-1"}]}`,
		ssgVersion:     "0.1.18",
		oscapExit:      oscap.NonCompliantStatus,
		unknownRefs:    map[string]bool{},
		tempDir:        t.TempDir(),
		archiveBase:    t.TempDir(),
		recorder:       &fakeRecorder{},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/inventory/v1/hosts", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(h.hostsBody))
	})
	r.HandleFunc("/api/compliance/v2/systems/{id}/policies", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(h.policiesStatus)
		_, _ = w.Write([]byte(h.policiesBody))
	})
	r.HandleFunc("/api/compliance/v2/policies/{id}/tailorings/{minor}/tailoring_file", func(w http.ResponseWriter, req *http.Request) {
		if mux.Vars(req)["id"] != "p-cis" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<Tailoring id="cis-tailoring"/>`))
	})
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)

	logger := logging.NewDiscard()
	session, err := api.NewClient(config.APIConfig{BaseURL: h.server.URL + "/api", Username: "u", Password: "p"}, "complyscan-test", logger)
	require.NoError(t, err)

	contentDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(contentDir, "ssg-rhel8-ds.xml"), []byte("<ds/>"), 0o644))

	h.runner = mocks.NewMockRunner(gomock.NewController(t))
	engine := oscap.NewEngine(h.runner, oscap.Options{ContentDir: contentDir, OSMajorVersion: "8"}, logger)

	opts := Options{
		MachineID:      "machine-1",
		OSMinorVersion: "6",
		NewArchive:     func() Archive { return archive.New(h.archiveBase, logger) },
		Metrics:        h.recorder,
	}
	if obfuscate {
		opts.Obfuscator = results.NewObfuscator(results.DefaultObfuscations(), true, logger)
	}
	h.orch = NewOrchestrator(api.NewPolicyClient(session, h.tempDir, logger), engine, opts, logger)
	return h
}

// fakeRun answers the commands of a healthy host.
func (h *harness) fakeRun(_ context.Context, cmd process.Command) (process.Result, error) {
	switch cmd.Name {
	case "rpm":
		if len(cmd.Args) > 1 && cmd.Args[1] == "--qf" {
			return process.Result{Output: h.ssgVersion}, nil
		}
		return process.Result{Output: "scap-security-guide-0.1.18-3.el8.noarch\nopenscap-scanner-1.3.5-6.el8.x86_64\nopenscap-1.3.5-6.el8.x86_64\n"}, nil
	case "grep":
		ref := cmd.Args[2]
		if h.unknownRefs[ref] {
			return process.Result{ExitCode: 1}, nil
		}
		return process.Result{Output: datastream + `:<xccdf-1.2:Profile id="` + ref + `">`}, nil
	case "oscap":
		return h.fakeScan(cmd)
	}
	h.t.Fatalf("unexpected command %s", cmd)
	return process.Result{}, nil
}

func (h *harness) fakeScan(cmd process.Command) (process.Result, error) {
	call := scanCall{profile: argAfter(cmd.Args, "--profile"), tailoring: argAfter(cmd.Args, "--tailoring-file")}
	if call.tailoring != "" {
		_, err := os.Stat(call.tailoring)
		call.tailoringExists = err == nil
	}
	h.scans = append(h.scans, call)

	assert.Equal(h.t, []string{"TZ=UTC"}, cmd.Env)
	assert.Equal(h.t, datastream, cmd.Args[len(cmd.Args)-1])

	if h.oscapExit == 0 || h.oscapExit == oscap.NonCompliantStatus {
		out := argAfter(cmd.Args, "--results")
		require.NoError(h.t, os.WriteFile(out, []byte(scanResults), 0o600))
	}
	return process.Result{ExitCode: h.oscapExit, Output: "scan output"}, nil
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func (h *harness) healthy() {
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(h.fakeRun).AnyTimes()
}

func untar(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	files := map[string]string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[filepath.Base(hdr.Name)] = string(data)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "%s is not empty", dir)
}

func TestRunTwoPoliciesWithRepair(t *testing.T) {
	h := newHarness(t, true)
	h.healthy()

	artifact, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ContentType, artifact.ContentType)
	assert.FileExists(t, artifact.Path)

	// tailoring only for the policy that has one, present during its scan
	require.Len(t, h.scans, 2)
	assert.Equal(t, cisProfile, h.scans[0].profile)
	assert.NotEmpty(t, h.scans[0].tailoring)
	assert.True(t, h.scans[0].tailoringExists)
	assert.Equal(t, osppProfile, h.scans[1].profile)
	assert.Empty(t, h.scans[1].tailoring)
	assertEmptyDir(t, h.tempDir)

	files := untar(t, artifact.Path)
	require.Len(t, files, 2)
	for _, ref := range []string{cisProfile, osppProfile} {
		content, ok := files["oscap_results-"+ref+".xml"]
		require.True(t, ok, "missing results for %s", ref)
		assert.Equal(t, 1, strings.Count(content, "<version>0.1.18</version>"))
		assert.Equal(t, 1, strings.Count(content, "<version>0.9</version>"), "only the first tag is repaired")
		assert.NotContains(t, content, "10.0.0.5")
		assert.NotContains(t, content, "host.example.com")
	}

	assert.Equal(t, []string{"success"}, h.recorder.runs)
	assert.Equal(t, 2, h.recorder.repairs)
	assert.Equal(t, []string{"saved", "not_tailored"}, h.recorder.tailoring)
	assert.Equal(t, map[string]string{cisProfile: "scanned", osppProfile: "scanned"}, h.recorder.policies)
}

func TestRunWithoutRepairOrObfuscation(t *testing.T) {
	h := newHarness(t, false)
	h.ssgVersion = "0.1.60"
	h.healthy()

	artifact, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	for _, content := range untar(t, artifact.Path) {
		assert.Equal(t, 2, strings.Count(content, "<version>0.9</version>"))
		assert.Contains(t, content, "10.0.0.5")
	}
	assert.Zero(t, h.recorder.repairs)
}

func TestRunPoliciesEndpointFailure(t *testing.T) {
	h := newHarness(t, false)
	h.policiesStatus = http.StatusInternalServerError
	h.runner.EXPECT().
		Run(gomock.Any(), process.Command{Name: "rpm", Args: append([]string{"-qa"}, oscap.RequiredPackages...)}).
		DoAndReturn(h.fakeRun).
		Times(1)

	artifact, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, artifact)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.IsCode(err, errors.CodeNoPolicies))
	assert.Contains(t, err.Error(), NoPoliciesMessage)
	assert.Empty(t, h.scans)
	assertEmptyDir(t, h.archiveBase)
	assert.Equal(t, []string{"failed"}, h.recorder.runs)
}

func TestRunScanFailureAborts(t *testing.T) {
	for _, exit := range []int{1, oscap.OutOfMemoryExitByte, oscap.OutOfMemoryStatus} {
		h := newHarness(t, true)
		h.oscapExit = exit
		h.healthy()

		_, err := h.orch.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))

		var ce *errors.ComplianceError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, cisProfile, ce.PolicyRefID)
		assert.Equal(t, exit, ce.ExitCode)

		assert.Len(t, h.scans, 1, "remaining policies must not be scanned")
		assertEmptyDir(t, h.tempDir)
		assertEmptyDir(t, h.archiveBase)
	}
}

func TestRunSkipsPolicyWithoutDocument(t *testing.T) {
	h := newHarness(t, true)
	h.unknownRefs[osppProfile] = true
	h.healthy()

	artifact, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	files := untar(t, artifact.Path)
	assert.Len(t, files, 1)
	assert.Contains(t, files, "oscap_results-"+cisProfile+".xml")
	assert.Equal(t, "skipped", h.recorder.policies[osppProfile])
}

func TestRunInventoryLookup(t *testing.T) {
	for _, body := range []string{
		`{"total": 0, "results": []}`,
		`{"total": 2, "results": [{"id": "a"}, {"id": "b"}]}`,
		`{"total": 1, "results": [{"fqdn": "no-id.example.com"}]}`,
	} {
		h := newHarness(t, false)
		h.hostsBody = body

		_, err := h.orch.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInventoryLookup), body)
	}
}

func TestRunMissingPackages(t *testing.T) {
	h := newHarness(t, false)
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		Return(process.Result{Output: "openscap-1.3.5-6.el8.x86_64\n"}, nil).
		Times(1)

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMissingPackages))
}

func TestRunCanceledBetweenPolicies(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	h.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(c context.Context, cmd process.Command) (process.Result, error) {
			res, err := h.fakeRun(c, cmd)
			if cmd.Name == "oscap" {
				cancel()
			}
			return res, err
		}).AnyTimes()

	_, err := h.orch.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	assert.Len(t, h.scans, 1)
	assertEmptyDir(t, h.archiveBase)
}

func TestResultsFile(t *testing.T) {
	assert.Equal(t, "/var/tmp/a/oscap_results-cis.xml", ResultsFile("/var/tmp/a", "cis"))
}

func TestReadMachineID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(path, []byte("  abc-123\n"), 0o644))

	id, err := ReadMachineID(path)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)

	_, err = ReadMachineID(filepath.Join(dir, "missing"))
	assert.True(t, errors.IsCode(err, errors.CodeInventoryLookup))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = ReadMachineID(empty)
	assert.Error(t, err)
}
