package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/unrolled/secure"

	"kasastok/backend/internal/domain"
	"kasastok/backend/internal/observability"
	"kasastok/backend/internal/service"
)

const (
	maxJSONBody   = 1 << 20
	maxImportBody = 10 << 20
)

type Options struct {
	AllowedOrigin string
	Production    bool
	Metrics       *observability.Metrics
	// LoginRate caps login attempts per client IP per minute.
	LoginRate int
}

type API struct {
	service  *service.Service
	auth     *AuthManager
	opts     Options
	validate *validator.Validate
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "http://localhost:5173"
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 5
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &API{
		service:  svc,
		auth:     auth,
		opts:     opts,
		validate: validate,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(a.opts.Metrics.Middleware)
	r.Use(a.secureHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.opts.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limitJSONBody)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(a.opts.LoginRate, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
			}),
		)).Post("/auth/login", a.handleLogin)

		staff := []string{domain.RoleCashier, domain.RoleManager, domain.RoleAdmin}
		back := []string{domain.RoleManager, domain.RoleAdmin}

		r.Route("/products", func(r chi.Router) {
			r.With(a.requireAuth(staff...)).Get("/", a.handleListProducts)
			r.With(a.requireAuth(staff...)).Get("/search", a.handleSearchProduct)
			r.With(a.requireAuth(back...)).Post("/", a.handleCreateProduct)
			r.With(a.requireAuth(back...)).Post("/import", a.handleImportProducts)
			r.With(a.requireAuth(staff...)).Get("/{id}", a.handleGetProduct)
			r.With(a.requireAuth(back...)).Patch("/{id}", a.handleUpdateProduct)
			r.With(a.requireAuth(domain.RoleAdmin)).Delete("/{id}", a.handleDeleteProduct)
		})

		r.Route("/sales", func(r chi.Router) {
			r.With(a.requireAuth(staff...)).Post("/", a.handleCompleteSale)
			r.With(a.requireAuth(staff...)).Post("/preview", a.handlePreviewSale)
			r.With(a.requireAuth(back...)).Get("/", a.handleListSales)
			r.With(a.requireAuth(staff...)).Get("/{id}", a.handleGetSale)
		})

		r.Route("/stock-movements", func(r chi.Router) {
			r.Use(a.requireAuth(back...))
			r.Get("/", a.handleListMovements)
			r.Post("/purchases", a.handleRecordPurchase)
		})

		r.Route("/cash", func(r chi.Router) {
			r.Use(a.requireAuth(back...))
			r.Get("/entries", a.handleListCashEntries)
			r.Post("/entries", a.handlePostCashEntry)
			r.Get("/summary", a.handleCashSummary)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Get("/", a.handleListUsers)
			r.Post("/", a.handleCreateUser)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func (a *API) secureHeaders() func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           a.opts.Production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := secureMiddleware.Process(w, r); err != nil {
				log.Printf("[http] WARN: secure headers blocked request path=%s: %v", r.URL.Path, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("%s %s %d %s reqid=%s", r.Method, r.URL.Path, ww.Status(), time.Since(startedAt), middleware.GetReqID(r.Context()))
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPatch) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) decodeAndValidate(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		return err
	}
	if err := a.validate.Struct(dest); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
