package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/devparmar15199/qr-student-app-backend/internal/attendance"
	"github.com/devparmar15199/qr-student-app-backend/internal/audit"
	"github.com/devparmar15199/qr-student-app-backend/internal/config"
	"github.com/devparmar15199/qr-student-app-backend/internal/faceclient"
	"github.com/devparmar15199/qr-student-app-backend/internal/queue"
	"github.com/devparmar15199/qr-student-app-backend/internal/roster"
	"github.com/devparmar15199/qr-student-app-backend/internal/schedule"
	"github.com/devparmar15199/qr-student-app-backend/internal/session"
	"github.com/devparmar15199/qr-student-app-backend/internal/store"
)

// faceVerifyJob mirrors the payload the API enqueues.
type faceVerifyJob struct {
	RecordID  string `json:"recordId"`
	StudentID string `json:"studentId"`
	ImageURL  string `json:"imageUrl"`
}

// Worker drains the work queue: it persists audit events and runs face
// verification on submitted captures. A daily cron purges audit logs
// past retention.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qr:work")
	}

	directory := roster.NewPGDirectory(db.Client)
	scheduleSvc := schedule.NewService(schedule.NewPGRepository(db.Client), directory)
	sessionSvc := session.NewService(session.NewRedisRepository(redisClient.Client), directory, scheduleSvc, session.Config{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		SessionLifetime: cfg.SessionLifetime,
		RotationWindow:  cfg.RotationWindow,
	})
	attendanceSvc := attendance.NewService(attendance.NewPGRepository(db.Client), sessionSvc, scheduleSvc, directory, attendance.Config{
		GeofenceRadiusM: cfg.GeofenceRadiusM,
		LateThreshold:   cfg.LateThreshold,
	})

	auditWriter := audit.NewWriter(db.Client)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("warning: face service not available: %v", err)
		} else {
			log.Println("face service connected")
		}
	}

	c := cron.New()
	_, err = c.AddFunc("@daily", func() {
		n, err := auditWriter.Purge(ctx, cfg.AuditRetention)
		if err != nil {
			log.Printf("audit purge failed: %v", err)
			return
		}
		log.Printf("audit purge removed %d entries", n)
	})
	if err != nil {
		log.Fatalf("cron setup failed: %v", err)
	}
	c.Start()
	defer c.Stop()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeAuditEvent:
			var ev audit.Event
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				log.Printf("bad audit event: %v", err)
				continue
			}
			if err := auditWriter.Insert(ctx, ev); err != nil {
				log.Printf("audit insert failed: %v", err)
			}

		case queue.TypeFaceVerify:
			var job faceVerifyJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				log.Printf("bad face verify job: %v", err)
				continue
			}
			processFaceVerify(ctx, face, attendanceSvc, job)

		default:
			log.Printf("unknown message type %q", msg.Type)
		}
	}

	log.Println("worker stopped")
}

// processFaceVerify runs liveness then identity verification on one
// capture and stores the verdict on the attendance record.
func processFaceVerify(ctx context.Context, face *faceclient.Client, svc *attendance.Service, job faceVerifyJob) {
	live, err := face.Liveness(ctx, job.ImageURL)
	if err != nil {
		log.Printf("liveness check failed for record %s: %v", job.RecordID, err)
		return
	}
	passed := live.IsLive
	if passed {
		verdict, err := face.Verify(ctx, job.StudentID, job.ImageURL)
		if err != nil {
			log.Printf("face verify failed for record %s: %v", job.RecordID, err)
			return
		}
		passed = verdict.Verified
	}

	if err := svc.RecordLiveness(ctx, job.RecordID, passed); err != nil {
		log.Printf("record liveness update failed for %s: %v", job.RecordID, err)
		return
	}
	log.Printf("record %s liveness=%t", job.RecordID, passed)
}
