//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"propenrich/internal/adapters/geocoder"
	httpserver "propenrich/internal/adapters/http_server"
	"propenrich/internal/adapters/memcache"
	"propenrich/internal/adapters/providers"
	redisad "propenrich/internal/adapters/redis"
	"propenrich/internal/app"
	"propenrich/internal/domain"
	mysqlrepo "propenrich/internal/storage/mysql"
)

// ---------- helpers ----------

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		_, file, _, _ := runtime.Caller(0)
		dir = filepath.Join(filepath.Dir(file), "..", "..", "migrations")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=propenrich"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/propenrich?multiStatements=true", resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = mysqlrepo.Open(context.Background(), dsn)
		return e
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	applyMigrations(t, db)
	return db
}

func jsonHandler(body any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}

func stubProviders(t *testing.T) (geo, lot, hazard, solar string) {
	t.Helper()
	servers := []*httptest.Server{
		httptest.NewServer(jsonHandler(map[string]any{"result": map[string]any{"addressMatches": []any{
			map[string]any{"coordinates": map[string]any{"x": -97.3308, "y": 32.7555}},
		}}})),
		httptest.NewServer(jsonHandler(map[string]any{"apn": "04512345", "lot_size": 7405.0, "year_built": 1998.0})),
		httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// one standard is down
			if r.URL.Query().Get("standard") == string(domain.ASCE722) {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"wind_speed": 110.0, "snow_load": 5.0})
		})),
		httptest.NewServer(jsonHandler(map[string]any{"solarPotential": map[string]any{"maxSunshineHoursPerYear": 1650.5}})),
	}
	for _, s := range servers {
		t.Cleanup(s.Close)
	}
	return servers[0].URL, servers[1].URL, servers[2].URL, servers[3].URL
}

// ---------- the test ----------

func TestHTTP_EndToEnd_EnrichAndArchive(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)

	mr := miniredis.RunT(t)
	shared := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = shared.Close() })
	cache := memcache.New(time.Minute, shared)

	geoURL, lotURL, hazURL, solarURL := stubProviders(t)
	client := providers.NewClient("", 100)
	fetchers := []domain.SourceFetcher{
		providers.NewLotRecords(app.SourceLotRecords, lotURL, client),
		providers.NewHazard(app.SourceHazardV1, hazURL, domain.ASCE716, client),
		providers.NewHazard(app.SourceHazardV2, hazURL, domain.ASCE722, client),
		providers.NewSolar(app.SourceSolar, solarURL, client, repo),
	}
	g := geocoder.NewCached(geocoder.New(geoURL, client), cache, time.Hour)

	orch, err := app.NewOrchestrator(g, fetchers, nil, nil, app.Options{FetchTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	arch := app.NewArchiver(repo, cache, 8)
	defer arch.Attach(orch.Bus())()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go arch.Run(ctx)

	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{Orch: orch, Q: app.NewQueryService(repo, cache, time.Minute)})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/enrichments", "application/json", strings.NewReader(`{"address":"123 Solar Way"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d", res.StatusCode)
	}

	// the archiver writes asynchronously; poll the read side
	var body struct {
		Record domain.PropertyRecord `json:"record"`
	}
	recordURL := ts.URL + "/v1/records?address=" + url.QueryEscape("123 Solar Way")
	deadline := time.Now().Add(10 * time.Second)
	for {
		res, err := http.Get(recordURL)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if res.StatusCode == http.StatusOK {
			err = json.NewDecoder(res.Body).Decode(&body)
			res.Body.Close()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			break
		}
		res.Body.Close()
		if time.Now().After(deadline) {
			t.Fatalf("record never archived (last status %d)", res.StatusCode)
		}
		time.Sleep(50 * time.Millisecond)
	}

	r := body.Record
	if r.ParcelNumber == nil || *r.ParcelNumber != "04512345" {
		t.Fatalf("parcel missing: %+v", r)
	}
	if r.WindSpeed716 == nil || *r.WindSpeed716 != 110 || r.WindSpeed != nil {
		t.Fatalf("hazard namespaces wrong: %+v", r)
	}
	if r.SunshineHours == nil || *r.SunshineHours != 1650.5 {
		t.Fatalf("solar missing: %+v", r)
	}

	hist, err := repo.ListSolarEstimates(context.Background(), "123 Solar Way", 5)
	if err != nil || len(hist) != 1 {
		t.Fatalf("solar estimate not appended: %v %+v", err, hist)
	}
}
