//прием пакетов офлайн-операций от устройств клиники;
//диспетчеризация операций по типам сущностей и разрешение конфликтов (last-write-wins);
//ведение журнала пакетов и карты device-local id -> server id;
//выдача серверных изменений устройству с момента последней синхронизации.

//POST /api/v1/sync            # Отправить пакет операций (auth)
//POST /api/v1/sync/async      # Поставить пакет в очередь (auth)
//GET  /api/v1/sync/status     # Статус устройства (auth)
//GET  /api/v1/sync/batch/{id} # Статус пакета (auth)
//GET  /api/v1/health          # Health check (публичный)

package api

import (
	"clinisync/internal/app/server/api/http/health"
	"clinisync/internal/app/server/api/http/middleware"
	"clinisync/internal/app/server/api/http/middleware/auth"
	"clinisync/internal/app/server/api/http/middleware/logger"
	syncAPI "clinisync/internal/app/server/api/http/sync"
	"clinisync/internal/app/server/config"
	"clinisync/internal/app/server/crypto"
	"clinisync/internal/domain/appointment"
	"clinisync/internal/domain/medrecord"
	"clinisync/internal/domain/patient"
	"clinisync/internal/domain/sync"
	"clinisync/internal/infrastructure/storage/postgres"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"
)

type Handlers struct {
	Health *health.Handler
	Sync   *syncAPI.Handler
}

// New создает *chi.Mux с ВСЕМИ операциями через huma.Register
func New(storage *postgres.Storage, enqueuer sync.Enqueuer, cfg *config.Config, log *slog.Logger) (*chi.Mux, error) {
	mux := chi.NewMux()

	humaConfig := huma.DefaultConfig("CliniSync API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, humaConfig)

	h, err := handlers(storage, enqueuer, cfg, log)
	if err != nil {
		return nil, err
	}
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)

	return mux, nil
}

// NewRegistry builds the closed handler table for every syncable entity
// type. Registration order is the delta provider's iteration order.
func NewRegistry(storage *postgres.Storage, enc *crypto.PIIEncryptor, log *slog.Logger) *sync.Registry {
	pool := storage.Pool()

	patientService := patient.NewService(postgres.NewPatientRepository(pool, log), enc, log)
	appointmentService := appointment.NewService(postgres.NewAppointmentRepository(pool, log), log)
	medrecordService := medrecord.NewService(postgres.NewMedrecordRepository(pool, log), log)

	registry := sync.NewRegistry()
	registry.Register(sync.EntityPatient, patientService)
	registry.Register(sync.EntityAppointment, appointmentService)
	registry.Register(sync.EntityRecord, medrecordService.Records())
	registry.Register(sync.EntityDentalChart, medrecordService.DentalCharts())
	registry.Register(sync.EntityPrenatalVisit, medrecordService.PrenatalVisits())
	registry.Register(sync.EntityOphthalmicExam, medrecordService.OphthalmicExams())
	return registry
}

// NewSyncService wires the sync engine against the storage layer. Shared
// by the API server and the background worker.
func NewSyncService(storage *postgres.Storage, enqueuer sync.Enqueuer, cfg *config.Config, log *slog.Logger) (*sync.Service, error) {
	enc, err := crypto.NewPIIEncryptor()
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(storage, enc, log)
	syncRepo := postgres.NewSyncRepository(storage.Pool(), log)

	return sync.NewService(syncRepo, registry, enqueuer, log, &sync.ServiceConfig{
		MaxBatchSize:    cfg.Sync.MaxBatchSize,
		AsyncThreshold:  cfg.Sync.AsyncThreshold,
		DeltaLimit:      cfg.Sync.DeltaLimit,
		MappingCacheTTL: cfg.Sync.CacheTTL,
	}), nil
}

func handlers(storage *postgres.Storage, enqueuer sync.Enqueuer, cfg *config.Config, log *slog.Logger) (*Handlers, error) {
	authMW := auth.New(auth.NewTokenCodec(cfg.Server.Secret), log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := health.NewHandler(storage, log, middlewares.GetAllAndClear())

	syncService, err := NewSyncService(storage, enqueuer, cfg, log)
	if err != nil {
		return nil, err
	}
	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	syncHandler := syncAPI.NewHandler(syncService, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}, nil
}
