package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evyataryagoni/membermap/internal/config"
	"github.com/evyataryagoni/membermap/internal/handler"
	"github.com/evyataryagoni/membermap/internal/limiter"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/metrics"
	"github.com/evyataryagoni/membermap/internal/models"
	"github.com/evyataryagoni/membermap/internal/realtime"
	"github.com/evyataryagoni/membermap/internal/router"
	"github.com/evyataryagoni/membermap/internal/service"
	"github.com/evyataryagoni/membermap/internal/store"
)

// fakeNominatim answers the cities it knows and nothing else
func fakeNominatim(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("q") {
		case "Lyon France":
			fmt.Fprint(w, `[{"lat":"45.764","lon":"4.8357"}]`)
		case "Dakar Sénégal":
			fmt.Fprint(w, `[{"lat":"14.7167","lon":"-17.4677"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAPI(t *testing.T) (*httptest.Server, *service.MemberService) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	svc := service.NewMemberService(store.NewMemoryStore(), realtime.NewMemoryBroker(16), m, logger.Nop())

	srv := httptest.NewServer(router.SetupRouter(router.Options{
		Members:     handler.NewMemberHandler(svc),
		Events:      handler.NewEventsHandler(svc, m, logger.Nop(), time.Second),
		RateLimiter: limiter.NewMockLimiter(true),
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger.Nop(),
	}))
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		svc.Close()
	})
	return srv, svc
}

func testConfig(t *testing.T, apiURL, geocodeURL string) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:         "error",
		APIURL:           apiURL,
		GeocodeURL:       geocodeURL,
		GeocodeUserAgent: "membermap-test",
		GeocodeCachePath: filepath.Join(t.TempDir(), "geocode-cache.json"),
	}
}

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeed_Samples(t *testing.T) {
	var posted []models.MemberDraft
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/members", r.URL.Path)

		var draft models.MemberDraft
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		posted = append(posted, draft)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Member{ID: fmt.Sprint(len(posted)), Name: draft.Name})
	}))
	defer srv.Close()

	out, err := run(t, testConfig(t, srv.URL+"/v1", ""), "seed")
	require.NoError(t, err)

	assert.Contains(t, out, "Created 3 members")
	require.Len(t, posted, 3)
	assert.Equal(t, "Jean Dupont", posted[0].Name)
	assert.Equal(t, "Président", posted[0].Poste)
	assert.Equal(t, 43.2965, posted[2].Latitude)
}

func TestSeed_FromCSV(t *testing.T) {
	srv, svc := newTestAPI(t)

	path := filepath.Join(t.TempDir(), "members.csv")
	csv := strings.Join(store.MembersCSVHeader, ",") + "\n" +
		"Awa Diop,14.7167,-17.4677,Dakar Sénégal,Membre,Trésorière,Dakar,Sénégal\n" +
		"Bad Row,not-a-number,1,x,x,x,x,x\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	out, err := run(t, testConfig(t, srv.URL+"/v1", ""), "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created 1 members")

	members, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Awa Diop", members[0].Name)
}

func TestSeed_StopsOnRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"Failed to create member"}`)
	}))
	defer srv.Close()

	_, err := run(t, testConfig(t, srv.URL, ""), "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created 0 of 3 members")
	assert.Contains(t, err.Error(), "Failed to create member")
}

func TestAdd_GeocodesAndWaitsForNotification(t *testing.T) {
	var calls atomic.Int32
	geo := fakeNominatim(t, &calls)
	srv, svc := newTestAPI(t)
	cfg := testConfig(t, srv.URL+"/v1", geo.URL)

	out, err := run(t, cfg, "add", "--name", "Marie Martin", "--ville", "Lyon", "--pays", "France", "--poste", "Communication")
	require.NoError(t, err)
	assert.Contains(t, out, "Added Marie Martin")
	assert.NotContains(t, out, "not seen yet")

	members, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Lyon France", members[0].Address)
	assert.Equal(t, 45.764, members[0].Latitude)

	// the lookup was persisted for the next run
	_, err = run(t, cfg, "add", "--name", "Claire", "--address", "Lyon  France")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAdd_UnknownAddress(t *testing.T) {
	var calls atomic.Int32
	geo := fakeNominatim(t, &calls)
	srv, svc := newTestAPI(t)

	_, err := run(t, testConfig(t, srv.URL+"/v1", geo.URL), "add", "--name", "Lost", "--address", "Atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not locate address")

	members, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestGeocode_MergesNewMembers(t *testing.T) {
	var calls atomic.Int32
	geo := fakeNominatim(t, &calls)
	dir := t.TempDir()

	base := filepath.Join(dir, "members.csv")
	require.NoError(t, os.WriteFile(base, []byte(strings.Join(store.MembersCSVHeader, ",")+"\n"+
		"Jean Dupont,48.8566,2.3522,Paris France,Membre fondateur,Président,Paris,France\n"), 0o644))

	incoming := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(incoming, []byte("name,description,address,poste,ville,pays\n"+
		"Paul,Membre,paris france,Membre,Paris,France\n"+
		"Marie,Membre,Lyon France,Communication,Lyon,France\n"+
		"Nobody,Membre,,Membre,,\n"), 0o644))

	outPath := filepath.Join(dir, "final.csv")
	cfg := testConfig(t, "", geo.URL)

	out, err := run(t, cfg, "geocode", "--base", base, "--new", incoming, "--out", outPath, "--cache", filepath.Join(dir, "cache.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "Added:              1")
	assert.Contains(t, out, "Already in base:    1")
	assert.Contains(t, out, "Without address:    1")
	assert.Equal(t, int32(1), calls.Load())

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	merged, skipped, err := store.ReadMembersCSV(f)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, merged, 2)
	assert.Equal(t, "Jean Dupont", merged[0].Name)
	assert.Equal(t, "Marie", merged[1].Name)
	assert.Equal(t, 4.8357, merged[1].Longitude)

	_, err = os.Stat(filepath.Join(dir, "cache.json"))
	assert.NoError(t, err)
}

func TestGeocode_MissingBaseIsEmpty(t *testing.T) {
	var calls atomic.Int32
	geo := fakeNominatim(t, &calls)
	dir := t.TempDir()

	incoming := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(incoming, []byte("name,description,address,poste,ville,pays\n"+
		"Awa,Membre,Dakar Sénégal,Trésorière,Dakar,Sénégal\n"), 0o644))

	out, err := run(t, testConfig(t, "", geo.URL), "geocode",
		"--base", filepath.Join(dir, "absent.csv"), "--new", incoming, "--out", filepath.Join(dir, "final.csv"))
	require.NoError(t, err)
	assert.Contains(t, out, "Base members:       0")
	assert.Contains(t, out, "Total:              1")
}
