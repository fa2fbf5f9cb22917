package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contract-deployer/internal/auth"
	"contract-deployer/internal/deployer"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/provider"
	"contract-deployer/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 8 << 20
)

// KeySource 返回部署使用的私钥，每个请求调用一次。
type KeySource func() (string, error)

// Server 负责暴露部署相关的 REST 接口。
type Server struct {
	addr     string
	deployer *deployer.Deployer
	chains   *provider.Registry
	keys     KeySource
	metrics  *metrics.Recorder
	auth     *auth.Service
	limiter  *rateLimiter
	logger   *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 启用 /metrics 端点并记录请求指标。
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// WithAuth 为部署与链查询接口启用身份认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithRateLimit 按客户端 IP 限制部署请求频率，requestsPerMin 小于等于 0 时不限流。
func WithRateLimit(requestsPerMin, burst int) Option {
	return func(s *Server) {
		if requestsPerMin > 0 {
			s.limiter = newRateLimiter(requestsPerMin, burst)
		}
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, d *deployer.Deployer, chains *provider.Registry, keys KeySource, opts ...Option) *Server {
	s := &Server{addr: addr, deployer: d, chains: chains, keys: keys}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	deployAuth := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {auth.PermissionDeploy}},
		AuditEvent:          "deployment",
	})
	chainsAuth := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {auth.PermissionChainsRead}},
		AuditEvent:          "chains",
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.MethodNotAllowed(s.instrument("method_not_allowed", http.HandlerFunc(s.handleMethodNotAllowed)).ServeHTTP)

	router.Method(http.MethodGet, "/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	router.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/deployments", s.instrument("deployments", s.limiter.middleware(deployAuth(http.HandlerFunc(s.handleDeployments)))))
		r.Method(http.MethodGet, "/chains", s.instrument("chains", chainsAuth(http.HandlerFunc(s.handleChains))))
		r.Method(http.MethodGet, "/chains/{name}", s.instrument("chain_detail", chainsAuth(http.HandlerFunc(s.handleChainDetail))))
	})
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		// 部署请求可能仍在等待上链，给予更长的优雅关闭时间。
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// deployRequest 是 POST /api/v1/deployments 的请求体。abi 既可以是 JSON
// 数组也可以是包含 JSON 的字符串；args 中的每一项按构造函数参数类型解析。
type deployRequest struct {
	Chain    string            `json:"chain"`
	ABI      json.RawMessage   `json:"abi"`
	Bytecode string            `json:"bytecode"`
	Args     []json.RawMessage `json:"args"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type chainsResponse struct {
	Default string           `json:"default"`
	Chains  []provider.Chain `json:"chains"`
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil || s.chains == nil {
		writeError(w, r, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeConfiguration, "部署服务未初始化"))
		return
	}

	var body deployRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "请求体解析失败"))
		return
	}

	chain, err := s.chains.Lookup(body.Chain)
	if err != nil {
		writeError(w, r, http.StatusNotFound, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "链不存在"))
		return
	}

	abiJSON, err := abiText(body.ABI)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "ABI 格式错误"))
		return
	}
	args, err := web3.DecodeConstructorArgs(abiJSON, argTexts(body.Args))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "构造参数解析失败"))
		return
	}

	if s.keys == nil {
		writeError(w, r, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeConfiguration, "未配置部署私钥"))
		return
	}
	key, err := s.keys()
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取部署私钥失败"))
		return
	}

	ctx := r.Context()
	if subject := auth.SubjectFromContext(ctx); subject != nil {
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(slog.String("subject", subject.Name)))
	}

	target := deployer.Target{Chain: chain.Name, Endpoint: chain.Endpoint, WaitTimeout: chain.WaitTimeout}
	deployment, err := s.deployer.DeployWithReceipt(ctx, target, key, web3.NewDeploymentRequest(abiJSON, body.Bytecode, args...))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, deployment)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeError(w, r, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeConfiguration, "链注册表未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, chainsResponse{Default: s.chains.DefaultChain(), Chains: s.chains.Chains()})
}

// handleChainDetail 连接指定链并返回最新的链快照。
func (s *Server) handleChainDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.chains == nil {
		writeError(w, r, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeConfiguration, "链注册表未初始化"))
		return
	}
	if _, err := s.chains.Lookup(name); err != nil {
		writeError(w, r, http.StatusNotFound, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "链不存在"))
		return
	}
	snapshot, err := s.chains.Describe(r.Context(), name)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取链信息失败"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidRequest, "不支持的请求方法"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument 为每个请求分配请求 ID，并记录访问日志与指标。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLogger := s.logger.With(slog.String("request_id", requestID))
		ctx := logger.WithContext(r.Context(), reqLogger)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		s.metrics.ObserveHTTPRequest(name, r.Method, sw.status, elapsed)
		reqLogger.Info("api_request",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

// statusClientClosedRequest 沿用 nginx 约定，表示调用方在响应前已断开。
const statusClientClosedRequest = 499

// statusFor 将部署错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidKey, xerrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case xerrors.CodeGasEstimation, xerrors.CodeExecution:
		return http.StatusUnprocessableEntity
	case xerrors.CodeConnectivity:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeCanceled:
		return statusClientClosedRequest
	case xerrors.CodeConfiguration:
		return http.StatusServiceUnavailable
	case codeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func abiText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", errors.New("缺少 abi 字段")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", err
		}
		return text, nil
	}
	return trimmed, nil
}

// argTexts 将 JSON 参数统一转换为文本，字符串去掉引号，其余保留原始字面量。
func argTexts(raw []json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			out = append(out, text)
			continue
		}
		out = append(out, strings.TrimSpace(string(item)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
		if cause := coded.Unwrap(); cause != nil {
			message = fmt.Sprintf("%s: %v", message, cause)
		}
	}
	writeJSON(w, status, errorResponse{
		Error:     message,
		Code:      string(code),
		RequestID: w.Header().Get(requestIDHeader),
	})
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
}

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
