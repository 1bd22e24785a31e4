package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/blockundo/internal/auth"
	"github.com/annel0/blockundo/internal/logging"
	"github.com/annel0/blockundo/internal/middleware"
	"github.com/annel0/blockundo/internal/undo"
	"github.com/annel0/blockundo/internal/world"
)

// RestServer - административный API журнала отмены
type RestServer struct {
	router    *gin.Engine
	service   *undo.Service
	issuer    *auth.TokenIssuer
	operators auth.Operators
	status    *ServerStatus
	log       *logging.Logger
}

// Config содержит зависимости REST сервера
type Config struct {
	Service   *undo.Service
	Issuer    *auth.TokenIssuer
	Operators auth.Operators
	Registry  *prometheus.Registry // nil - глобальный реестр
}

// NewRestServer создаёт сервер и настраивает маршруты
func NewRestServer(cfg Config) *RestServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("undo_api"))
	router.Use(middleware.NewRequestLogger(nil).Handler())

	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("undo_api", reg, gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:    router,
		service:   cfg.Service,
		issuer:    cfg.Issuer,
		operators: cfg.Operators,
		status:    NewServerStatus(cfg.Service.Store()),
		log:       logging.GetComponentLogger("api"),
	}
	rs.setupRoutes()
	return rs
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler { return rs.router }

func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.POST("/auth/login", rs.handleLogin)

	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/status", rs.handleStatus)
		protected.GET("/players", rs.handlePlayers)
		protected.GET("/players/:name/files", rs.handlePlayerFiles)
		protected.POST("/highlight", rs.handleHighlight)

		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/undo", rs.handleUndo)
			admin.POST("/upgrade/:name", rs.handleUpgrade)
			admin.POST("/rotate", rs.handleRotate)
		}
	}
}

// GenericResponse - общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// LoginRequest - запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ReplayRequest - параметры отката или подсветки
type ReplayRequest struct {
	Player string `json:"player"` // пусто - весь сервер
	Since  string `json:"since"`  // "30m" или 2006-01-02T15:04:05Z
	Until  string `json:"until"`
	Region string `json:"region"` // x1,y1,z1,x2,y2,z2
	// AsActor - откат от имени оператора с проверкой прав, иначе административный
	AsActor bool `json:"as_actor"`
}

// RotateRequest - параметры ротации
type RotateRequest struct {
	Force bool `json:"force"`
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: msg})
}

func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			fail(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			fail(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}
		claims, err := rs.issuer.Validate(parts[1])
		if err != nil {
			fail(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}
		c.Set("username", claims.Username)
		c.Set("is_admin", claims.IsAdmin)
		c.Next()
	}
}

func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			fail(c, http.StatusForbidden, "Требуются права администратора")
			return
		}
		c.Next()
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}

func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	isAdmin, err := rs.operators.Authenticate(req.Username, req.Password)
	if err != nil {
		fail(c, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := rs.issuer.Issue(req.Username, isAdmin)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Успешная авторизация",
		Data:    gin.H{"token": token, "is_admin": isAdmin},
	})
}

func (rs *RestServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Состояние журнала", Data: rs.status.Collect()})
}

func (rs *RestServer) handlePlayers(c *gin.Context) {
	store := rs.service.Store()
	out := gin.H{}
	for _, gen := range []undo.Generation{undo.Current, undo.Previous} {
		players, err := store.Players(gen)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		if players == nil {
			players = []string{}
		}
		out[gen.String()] = players
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Игроки с журналом", Data: out})
}

// FileInfo - файл журнала в ответе API
type FileInfo struct {
	Generation string    `json:"generation"`
	Index      int       `json:"index"`
	Path       string    `json:"path"`
	ModTime    time.Time `json:"mod_time"`
}

func (rs *RestServer) handlePlayerFiles(c *gin.Context) {
	store := rs.service.Store()
	var files []FileInfo
	for _, gen := range []undo.Generation{undo.Current, undo.Previous} {
		refs, err := store.PlayerFiles(gen, c.Param("name"))
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		for _, f := range refs {
			files = append(files, FileInfo{Generation: gen.String(), Index: f.Index, Path: f.Path, ModTime: f.ModTime})
		}
	}
	if len(files) == 0 {
		fail(c, http.StatusNotFound, "Журнал игрока не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Файлы журнала", Data: files})
}

func (rs *RestServer) parseReplay(c *gin.Context) (ReplayRequest, undo.Scope, undo.Args, bool) {
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return req, undo.Scope{}, undo.Args{}, false
	}
	args, err := undo.BuildArgs(req.Since, req.Until, req.Region, time.Now())
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return req, undo.Scope{}, undo.Args{}, false
	}
	scope := undo.ServerScope()
	if req.Player != "" {
		scope = undo.PlayerScope(req.Player)
	}
	return req, scope, args, true
}

func (rs *RestServer) replied(c *gin.Context, res undo.Result, err error, what string) {
	if err != nil && !errors.Is(err, c.Request.Context().Err()) {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Found {
		fail(c, http.StatusNotFound, "Журнал не найден")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: what, Data: res})
}

func (rs *RestServer) handleHighlight(c *gin.Context) {
	_, scope, args, ok := rs.parseReplay(c)
	if !ok {
		return
	}
	actor := world.NewPlayer(c.GetString("username"))
	res, err := rs.service.Highlight(c.Request.Context(), actor, scope, args)
	rs.replied(c, res, err, "Подсветка отправлена")
}

func (rs *RestServer) handleUndo(c *gin.Context) {
	req, scope, args, ok := rs.parseReplay(c)
	if !ok {
		return
	}
	var actor world.Actor
	if req.AsActor {
		actor = world.NewPlayer(c.GetString("username"))
	}
	res, err := rs.service.Undo(c.Request.Context(), actor, scope, args)
	rs.log.Info("↩️ Откат через API оператором %s: применено=%d", c.GetString("username"), res.Applied)
	rs.replied(c, res, err, "Откат выполнен")
}

func (rs *RestServer) handleUpgrade(c *gin.Context) {
	res, err := rs.service.Upgrade(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Миграция выполнена", Data: res})
}

func (rs *RestServer) handleRotate(c *gin.Context) {
	var req RotateRequest
	_ = c.ShouldBindJSON(&req)

	store := rs.service.Store()
	if req.Force {
		if err := store.ForceRotate(); err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Ротация выполнена", Data: gin.H{"rotated": true}})
		return
	}
	rotated, err := store.Rotate()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Проверка ротации", Data: gin.H{"rotated": rotated}})
}
