package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"promo_service/internal/config"
	"promo_service/internal/database"
	"promo_service/internal/logger"
	"promo_service/internal/member"
	"promo_service/internal/promotion"
	"promo_service/internal/queue"
	"promo_service/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	db, err := database.New(cfg.Database, log)
	if err != nil {
		log.Fatalln(err)
	}

	repo := promotion.NewRepository(db)
	members := member.NewDirectory(db)
	svc := promotion.NewService(repo, members, log)

	publisher, err := queue.NewPublisher(cfg.RabbitMQ, log)
	if err != nil {
		log.Fatalln(err)
	}
	defer publisher.Close()

	consumer, err := queue.NewConsumer(cfg.RabbitMQ, log)
	if err != nil {
		log.Fatalln(err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := worker.New(cfg.Worker, svc, log)
	go func() {
		if err := consumer.Start(ctx, jobs.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("consumer stopped")
		}
	}()
	go jobs.RunRolloverLoop(ctx)

	r := gin.Default()

	r.POST("/promotion/imports", func(c *gin.Context) {
		var req struct {
			GameType promotion.GameType       `json:"game_type"`
			Filename string                   `json:"filename"`
			Records  []promotion.ImportRecord `json:"records"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.GameType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game type"})
			return
		}
		if len(req.Records) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no records"})
			return
		}

		batch := &promotion.ImportBatch{
			BatchID:   uuid.New().String(),
			Status:    promotion.BatchStatusOngoing,
			Filename:  req.Filename,
			CreatedBy: actorID(c),
		}
		if err := repo.CreateBatch(c.Request.Context(), batch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		job, err := queue.NewJob(queue.JobImportBets, queue.ImportBetsPayload{
			BatchID:  batch.BatchID,
			GameType: req.GameType,
			ActorID:  batch.CreatedBy,
			Records:  req.Records,
		})
		if err == nil {
			err = publisher.Publish(c.Request.Context(), job)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		jobs.ScheduleBatchCancel(ctx, batch.BatchID)
		c.JSON(http.StatusAccepted, gin.H{"batch_id": batch.BatchID})
	})

	r.GET("/promotion/imports/:id", func(c *gin.Context) {
		batch, err := repo.GetBatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, promotion.ErrBatchNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"batch_id": batch.BatchID,
			"status":   batch.Status,
			"filename": batch.Filename,
			"memo":     batch.Memo,
		})
	})

	r.DELETE("/promotion/imports/:id", func(c *gin.Context) {
		publishJob(c, publisher, queue.JobDeleteBatch, queue.BatchPayload{
			BatchID: c.Param("id"),
			ActorID: actorID(c),
		})
	})

	r.POST("/promotion/bets/revert", func(c *gin.Context) {
		var req struct {
			BetIDs []string `json:"bet_ids"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.BetIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bet_ids required"})
			return
		}
		publishJob(c, publisher, queue.JobRevertBets, queue.RevertBetsPayload{
			BetIDs:  req.BetIDs,
			ActorID: actorID(c),
		})
	})

	r.POST("/promotion/rollover", func(c *gin.Context) {
		publishJob(c, publisher, queue.JobRollover, struct{}{})
	})

	r.POST("/promotion/recompute", func(c *gin.Context) {
		publishJob(c, publisher, queue.JobRecompute, struct{}{})
	})

	r.GET("/promotion/summaries/:username", func(c *gin.Context) {
		gameType, err := strconv.Atoi(c.DefaultQuery("game_type", "0"))
		if err != nil || !promotion.GameType(gameType).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown game type"})
			return
		}

		view, err := svc.SummaryFor(c.Request.Context(), c.Param("username"), promotion.GameType(gameType))
		if err != nil {
			if errors.Is(err, member.ErrMemberNotFound) || errors.Is(err, promotion.ErrSummaryNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// actorID carries the acting admin's identity; authentication itself lives
// upstream of this service.
func actorID(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}

func publishJob(c *gin.Context, publisher *queue.Publisher, jobType string, payload interface{}) {
	job, err := queue.NewJob(jobType, payload)
	if err == nil {
		err = publisher.Publish(c.Request.Context(), job)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"enqueued": jobType})
}
