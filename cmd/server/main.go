package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain"
	"github.com/clinicflow/clinicflow/internal/domain/appointment"
	"github.com/clinicflow/clinicflow/internal/domain/clinicalrecord"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	v1 "github.com/clinicflow/clinicflow/internal/handler/v1"
	"github.com/clinicflow/clinicflow/internal/repository"
	"github.com/clinicflow/clinicflow/internal/service"
	"github.com/clinicflow/clinicflow/pkg/auth"
	"github.com/clinicflow/clinicflow/pkg/database"
	"github.com/clinicflow/clinicflow/pkg/logger"
	"github.com/clinicflow/clinicflow/pkg/metrics"
	"github.com/clinicflow/clinicflow/pkg/tracer"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("shutting down tracer", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}

	if err := database.Migrate(db, log,
		&domain.User{},
		&domain.AuditLog{},
		&patient.Patient{},
		&appointment.Appointment{},
		&clinicalrecord.Record{},
	); err != nil {
		return err
	}

	m := metrics.NewCollector("clinicflow")
	database.StartPoolStats(db, m.DBConnections, 15*time.Second)

	appointmentRepo := repository.NewAppointmentRepository(db)
	patientRepo := repository.NewPatientRepository(db)
	userRepo := repository.NewUserRepository(db)
	recordRepo := repository.NewClinicalRecordRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	handles := database.NewHandles(db, m.TxRetriesTotal, log)

	auditSvc := service.NewAuditService(auditRepo, m, log)
	defer auditSvc.Shutdown()

	eventSvc := service.NewEventService(m, log, &service.LoggingSink{Log: log})
	defer eventSvc.Shutdown()

	jwtManager := auth.NewJWTManager(cfg.JWT)

	appointmentSvc := service.NewAppointmentService(
		appointmentRepo, patientRepo, userRepo, recordRepo,
		handles, auditSvc, eventSvc, cfg.Scheduling, log,
	)
	patientSvc := service.NewPatientService(patientRepo, auditSvc, m, log)
	recordSvc := service.NewClinicalRecordService(recordRepo, appointmentRepo, auditSvc, log)
	authSvc := service.NewAuthService(userRepo, jwtManager, auditSvc, log)

	router := v1.NewRouter(v1.RouterDeps{
		Appointments:    v1.NewAppointmentHandler(appointmentSvc),
		Patients:        v1.NewPatientHandler(patientSvc),
		ClinicalRecords: v1.NewClinicalRecordHandler(recordSvc),
		Auth:            v1.NewAuthHandler(authSvc),
		JWTManager:      jwtManager,
		Metrics:         m,
		Log:             log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Environment),
			zap.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
