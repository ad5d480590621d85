package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridemarket/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	tokens *infra.JWTService
	db     *pgxpool.Pool
	redis  *redis.Client
	admin  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	tokens, err := infra.NewJWTService(cfg.JWTSecret, cfg.Timeout+time.Minute)
	if err != nil {
		return nil, fmt.Errorf("a jwt secret shared with the API is required: %w", err)
	}
	r := &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: tokens,
	}
	r.admin = r.token("admin", "smoke-admin")
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := append(r.envCases(), r.cases()...)
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start).Round(time.Millisecond)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency)
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func pass(note string, args ...any) Result {
	return Result{Status: statusPass, Note: fmt.Sprintf(note, args...)}
}

func fail(note string, args ...any) Result {
	return Result{Status: statusFail, Note: fmt.Sprintf(note, args...)}
}

func skip(note string) Result {
	return Result{Status: statusSkip, Note: note}
}

func (r *Runner) token(role, uid string) string {
	t, err := r.tokens.Issue(uid, role)
	if err != nil {
		panic(err)
	}
	return t
}

// newID scopes actor ids to this run so reruns against one database do not
// collide.
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// call sends one API request. out is decoded on 2xx; the error body is
// returned otherwise.
func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, apiError, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, apiError{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, apiError{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, apiError{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, apiError{}, err
	}
	if resp.StatusCode >= 300 {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		return resp.StatusCode, e, nil
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, apiError{}, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, apiError{}, nil
}

// expect runs call and fails unless the status matches.
func (r *Runner) expect(ctx context.Context, want int, method, path, token string, body, out any) error {
	status, e, err := r.call(ctx, method, path, token, body, out)
	if err != nil {
		return err
	}
	if status != want {
		return fmt.Errorf("%s %s: status=%d want=%d code=%s %s", method, path, status, want, e.Code, e.Error)
	}
	return nil
}

func (r *Runner) envCases() []TestCase {
	return []TestCase{
		{
			Name: "Env: API health",
			Run: func(ctx context.Context, r *Runner) Result {
				if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/health", "", nil, nil); err != nil {
					return fail("%v", err)
				}
				return pass("")
			},
		},
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return skip("dsn not configured")
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return fail("%v", err)
				}
				return pass("")
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return skip("redis not configured")
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return fail("%v", err)
				}
				return pass("")
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return skip("apply-migration=false")
				}
				if r.db == nil {
					return fail("db not configured")
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return fail("%v", err)
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return fail("%v", err)
					}
				}
				return pass("")
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return skip("dsn not configured")
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return fail("%v", err)
				}
				var missing []string
				for _, t := range tables {
					var ok bool
					err := r.db.QueryRow(ctx,
						`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, t).Scan(&ok)
					if err != nil {
						return fail("%v", err)
					}
					if !ok {
						missing = append(missing, t)
					}
				}
				if len(missing) > 0 {
					return fail("missing: %s", strings.Join(missing, ", "))
				}
				return pass("%d tables", len(tables))
			},
		},
	}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

// splitSQL breaks a migration into statements. It does not understand
// dollar-quoted bodies.
func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
