package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"neurostore/cache"
	"neurostore/config"
	"neurostore/models"
	"neurostore/providers"
	"neurostore/providers/openalex"
	"neurostore/providers/pubmed"
	"neurostore/providers/semanticscholar"
	"neurostore/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var flagOutboxProcessedCounter prometheus.Counter
var metadataOutboxProcessedCounter prometheus.Counter

func init() {
	flagOutboxProcessedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flag_outbox_processed_total",
			Help: "Total number of base studies processed from the flag outbox.",
		},
	)
	metadataOutboxProcessedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metadata_outbox_processed_total",
			Help: "Total number of base studies processed from the metadata outbox.",
		},
	)
	prometheus.MustRegister(flagOutboxProcessedCounter)
	prometheus.MustRegister(metadataOutboxProcessedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// cacheVersionMiddleware hängt an jede GET-Antwort die aktuelle
// Cache-Version des Pfads, damit vorgelagerte Caches darauf keyen können.
func cacheVersionMiddleware(versions *cache.Versions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Header("X-Cache-Version", versions.ForPath(c.Request.Context(), c.Request.URL.Path))
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.BaseStudy{}, &models.Study{}, &models.Analysis{},
		&models.Point{}, &models.Image{},
		&models.Studyset{}, &models.StudysetStudy{},
		&models.Annotation{}, &models.AnnotationAnalysis{},
		&models.PipelineStudyResult{}, &models.PipelineEmbedding{},
		&models.BaseStudyFlagOutbox{}, &models.BaseStudyMetadataOutbox{},
	)

	// Setup Providers
	ssFetcher := semanticscholar.NewFetcher(cfg, logging)
	pmFetcher := pubmed.NewFetcher(cfg, logging)
	oaFetcher := openalex.NewFetcher(cfg, logging)
	identifierProviders := []providers.IdentifierProvider{ssFetcher, pmFetcher, oaFetcher}
	metadataProviders := []providers.MetadataProvider{ssFetcher, pmFetcher, oaFetcher}
	logging.Info("Active providers loaded",
		zap.Strings("providers", []string{ssFetcher.Name(), pmFetcher.Name(), oaFetcher.Name()}))

	// Setup Services
	versions := cache.NewVersions(cfg, logging)
	defer versions.Close()
	flagService := services.NewFlagService(db, logging)
	enrichmentService := services.NewEnrichmentService(cfg, db, logging, flagService, identifierProviders, metadataProviders)
	outboxService := services.NewOutboxService(cfg, db, logging, flagService, enrichmentService, versions)
	integrator := services.NewWriteIntegrator(cfg, db, logging, flagService, outboxService, versions)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.Use(cacheVersionMiddleware(versions))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupBaseStudyRoutes(router, db, integrator, logging)
	setupStudyRoutes(router, db, integrator, logging)
	setupAnalysisRoutes(router, db, integrator, logging)
	setupPointRoutes(router, db, integrator, logging)
	setupImageRoutes(router, db, integrator, logging)
	setupStudysetRoutes(router, db, integrator, logging)
	setupAnnotationRoutes(router, db, integrator, logging)
	setupAdminRoutes(router, outboxService, enrichmentService, flagService, versions, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.FlagOutboxCron, func() {
		count, err := outboxService.ProcessFlagOutboxBatch(context.Background(), 0)
		if err != nil {
			logging.Error("Flag outbox cron failed", zap.Error(err))
		} else if count > 0 {
			flagOutboxProcessedCounter.Add(float64(count))
		}
	})
	cronScheduler.AddFunc(cfg.MetadataOutboxCron, func() {
		count, err := outboxService.ProcessMetadataOutboxBatch(context.Background(), 0)
		if err != nil {
			logging.Error("Metadata outbox cron failed", zap.Error(err))
		} else if count > 0 {
			metadataOutboxProcessedCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// applyWriteEffects fährt nach einem erfolgreichen Commit die
// Konsistenzkette: Cache-Versionen bumpen, Flags neu berechnen bzw.
// einreihen, fehlende Annotation-Zeilen nachziehen. Fehler werden geloggt,
// aber nicht an den Client durchgereicht; die Outbox bzw. der nächste Write
// holt die Arbeit nach.
func applyWriteEffects(ctx context.Context, integ *services.WriteIntegrator, log *zap.Logger,
	affected services.AffectedIDs, reason string) {
	if affected.Empty() {
		return
	}
	integ.ClearCache(ctx, affected)
	if err := integ.UpdateBaseStudies(ctx, affected, reason); err != nil {
		log.Error("Failed to schedule flag updates", zap.String("reason", reason), zap.Error(err))
	}
	if err := integ.BackfillAnnotationAnalyses(ctx, affected); err != nil {
		log.Error("Failed to backfill annotation analyses", zap.String("reason", reason), zap.Error(err))
	}
}

func setupBaseStudyRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/base-studies")

	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.BaseStudy{})
		if c.Query("include_inactive") != "true" {
			query = query.Where("is_active = ?", true)
		}
		var baseStudies []models.BaseStudy
		if err := query.Order("created_at desc").Find(&baseStudies).Error; err != nil {
			log.Error("Database query for base studies failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, baseStudies)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var baseStudy models.BaseStudy
		if err := db.Preload("Versions").First(&baseStudy, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "base study not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		// Deaktivierte Duplikate verweisen auf ihren Kanon.
		if !baseStudy.IsActive && baseStudy.SupersededBy != nil {
			c.Header("Location", "/api/base-studies/"+strconv.FormatUint(uint64(*baseStudy.SupersededBy), 10))
		}
		c.JSON(http.StatusOK, baseStudy)
	})

	rg.POST("/", func(c *gin.Context) {
		var baseStudy models.BaseStudy
		if err := c.ShouldBindJSON(&baseStudy); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		baseStudy.IsActive = true
		if err := db.Create(&baseStudy).Error; err != nil {
			log.Error("Failed to create base study", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create base study"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceBaseStudies, []uint{baseStudy.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "base-study-created")
			if err := integ.EnqueueMetadataEnrichment(ctx, affected, "base-study-created"); err != nil {
				log.Error("Failed to enqueue metadata enrichment", zap.Error(err))
			}
		}
		c.JSON(http.StatusCreated, baseStudy)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var baseStudy models.BaseStudy
		if err := db.First(&baseStudy, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "base study not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Nur die gesendeten Felder binden, um Überschreiben zu verhindern
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&baseStudy).Updates(updateData).Error; err != nil {
			log.Error("Failed to update base study", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update base study"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceBaseStudies, []uint{id})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "base-study-updated")
		}
		c.JSON(http.StatusOK, baseStudy)
	})
}

func setupStudyRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/studies")

	rg.GET("/", func(c *gin.Context) {
		var studies []models.Study
		if err := db.Order("created_at desc").Find(&studies).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, studies)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var study models.Study
		if err := db.Preload("Analyses").First(&study, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, study)
	})

	rg.POST("/", func(c *gin.Context) {
		var study models.Study
		if err := c.ShouldBindJSON(&study); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&study).Error; err != nil {
			log.Error("Failed to create study", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create study"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceStudies, []uint{study.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "study-created")
		}
		c.JSON(http.StatusCreated, study)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var study models.Study
		if err := db.First(&study, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		ctx := c.Request.Context()
		// Snapshot vor dem Write: ein Re-Parenting berührt auch den alten
		// Elternpfad.
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceStudies, []uint{id})
		if err != nil {
			log.Error("Failed to collect affected ids (pre)", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&study).Updates(updateData).Error; err != nil {
			log.Error("Failed to update study", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update study"})
			return
		}

		post, err := integ.GetAffectedIDs(ctx, services.ResourceStudies, []uint{id})
		if err != nil {
			log.Error("Failed to collect affected ids (post)", zap.Error(err))
			post = services.AffectedIDs{}
		}
		applyWriteEffects(ctx, integ, log, services.MergeUniqueIDs(pre, post), "study-updated")
		c.JSON(http.StatusOK, study)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceStudies, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Delete(&models.Study{}, id).Error; err != nil {
			log.Error("Failed to delete study", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete study"})
			return
		}
		applyWriteEffects(ctx, integ, log, pre, "study-deleted")
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	})
}

func setupAnalysisRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/analyses")

	rg.GET("/:id", func(c *gin.Context) {
		var analysis models.Analysis
		if err := db.Preload("Points").Preload("Images").First(&analysis, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, analysis)
	})

	rg.POST("/", func(c *gin.Context) {
		var analysis models.Analysis
		if err := c.ShouldBindJSON(&analysis); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&analysis).Error; err != nil {
			log.Error("Failed to create analysis", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create analysis"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceAnalyses, []uint{analysis.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "analysis-created")
		}
		c.JSON(http.StatusCreated, analysis)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var analysis models.Analysis
		if err := db.First(&analysis, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceAnalyses, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&analysis).Updates(updateData).Error; err != nil {
			log.Error("Failed to update analysis", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update analysis"})
			return
		}

		post, err := integ.GetAffectedIDs(ctx, services.ResourceAnalyses, []uint{id})
		if err != nil {
			post = services.AffectedIDs{}
		}
		applyWriteEffects(ctx, integ, log, services.MergeUniqueIDs(pre, post), "analysis-updated")
		c.JSON(http.StatusOK, analysis)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceAnalyses, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Delete(&models.Analysis{}, id).Error; err != nil {
			log.Error("Failed to delete analysis", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete analysis"})
			return
		}
		applyWriteEffects(ctx, integ, log, pre, "analysis-deleted")
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	})
}

func setupPointRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/points")

	rg.POST("/", func(c *gin.Context) {
		var point models.Point
		if err := c.ShouldBindJSON(&point); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&point).Error; err != nil {
			log.Error("Failed to create point", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create point"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourcePoints, []uint{point.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "point-created")
		}
		c.JSON(http.StatusCreated, point)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourcePoints, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Delete(&models.Point{}, id).Error; err != nil {
			log.Error("Failed to delete point", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete point"})
			return
		}
		applyWriteEffects(ctx, integ, log, pre, "point-deleted")
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	})
}

func setupImageRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/images")

	rg.POST("/", func(c *gin.Context) {
		var image models.Image
		if err := c.ShouldBindJSON(&image); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&image).Error; err != nil {
			log.Error("Failed to create image", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create image"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceImages, []uint{image.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "image-created")
		}
		c.JSON(http.StatusCreated, image)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var image models.Image
		if err := db.First(&image, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&image).Updates(updateData).Error; err != nil {
			log.Error("Failed to update image", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update image"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceImages, []uint{id})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "image-updated")
		}
		c.JSON(http.StatusOK, image)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceImages, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if err := db.Delete(&models.Image{}, id).Error; err != nil {
			log.Error("Failed to delete image", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete image"})
			return
		}
		applyWriteEffects(ctx, integ, log, pre, "image-deleted")
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	})
}

func setupStudysetRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/studysets")

	rg.GET("/:id", func(c *gin.Context) {
		var studyset models.Studyset
		if err := db.Preload("Studies").First(&studyset, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "studyset not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, studyset)
	})

	rg.POST("/", func(c *gin.Context) {
		var studyset models.Studyset
		if err := c.ShouldBindJSON(&studyset); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&studyset).Error; err != nil {
			log.Error("Failed to create studyset", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create studyset"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceStudysets, []uint{studyset.ID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			applyWriteEffects(ctx, integ, log, affected, "studyset-created")
		}
		c.JSON(http.StatusCreated, studyset)
	})

	// Mitgliedschaft ändern: Studies hinzufügen/entfernen.
	rg.PUT("/:id/studies", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var studyset models.Studyset
		if err := db.First(&studyset, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "studyset not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var req struct {
			Add    []uint `json:"add"`
			Remove []uint `json:"remove"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ctx := c.Request.Context()
		pre, err := integ.GetAffectedIDs(ctx, services.ResourceStudysets, []uint{id})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			for _, studyID := range req.Add {
				row := models.StudysetStudy{StudysetID: id, StudyID: studyID}
				if err := tx.Where(row).FirstOrCreate(&row).Error; err != nil {
					return err
				}
			}
			if len(req.Remove) > 0 {
				if err := tx.Where("studyset_id = ? AND study_id IN ?", id, req.Remove).
					Delete(&models.StudysetStudy{}).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Error("Failed to update studyset membership", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update studyset"})
			return
		}

		// Entfernte wie hinzugefügte Studies wandern in den Snapshot.
		touched := services.AffectedIDs{}
		touched.Add(services.ResourceStudies, req.Add...)
		touched.Add(services.ResourceStudies, req.Remove...)
		post, err := integ.GetAffectedIDs(ctx, services.ResourceStudysets, []uint{id})
		if err != nil {
			post = services.AffectedIDs{}
		}
		applyWriteEffects(ctx, integ, log, services.MergeUniqueIDs(pre, post, touched), "studyset-membership-updated")
		c.JSON(http.StatusOK, gin.H{"message": "updated"})
	})
}

func setupAnnotationRoutes(router *gin.Engine, db *gorm.DB, integ *services.WriteIntegrator, log *zap.Logger) {
	rg := router.Group("/api/annotations")

	rg.GET("/:id", func(c *gin.Context) {
		var annotation models.Annotation
		if err := db.Preload("AnnotationAnalyses").First(&annotation, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, annotation)
	})

	rg.POST("/", func(c *gin.Context) {
		var annotation models.Annotation
		if err := c.ShouldBindJSON(&annotation); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Create(&annotation).Error; err != nil {
			log.Error("Failed to create annotation", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create annotation"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceStudysets, []uint{annotation.StudysetID})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			// Frische Annotation sofort mit Default-Notizen füllen.
			applyWriteEffects(ctx, integ, log, affected, "annotation-created")
		}
		c.JSON(http.StatusCreated, annotation)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var annotation models.Annotation
		if err := db.First(&annotation, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := db.Model(&annotation).Updates(updateData).Error; err != nil {
			log.Error("Failed to update annotation", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update annotation"})
			return
		}

		ctx := c.Request.Context()
		affected, err := integ.GetAffectedIDs(ctx, services.ResourceAnnotations, []uint{id})
		if err != nil {
			log.Error("Failed to collect affected ids", zap.Error(err))
		} else {
			integ.ClearCache(ctx, affected)
		}
		c.JSON(http.StatusOK, annotation)
	})
}

/// setupAdminRoutes bietet manuelle Trigger für die Hintergrundarbeit:
// Outbox-Drains, Einzelanreicherung und Flag-Neuberechnung.
func setupAdminRoutes(router *gin.Engine, outbox *services.OutboxService,
	enrichment *services.EnrichmentService, flags *services.FlagService,
	versions *cache.Versions, log *zap.Logger) {
	rg := router.Group("/api/admin")

	rg.POST("/outbox/flags/process", func(c *gin.Context) {
		count, err := outbox.ProcessFlagOutboxBatch(c.Request.Context(), 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "flag outbox batch failed"})
			return
		}
		flagOutboxProcessedCounter.Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"processed": count})
	})

	rg.POST("/outbox/metadata/process", func(c *gin.Context) {
		count, err := outbox.ProcessMetadataOutboxBatch(c.Request.Context(), 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metadata outbox batch failed"})
			return
		}
		metadataOutboxProcessedCounter.Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"processed": count})
	})

	rg.POST("/base-studies/:id/enrich", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		affected, err := enrichment.EnrichBaseStudyMetadata(c.Request.Context(), id)
		if err != nil {
			log.Error("Manual enrichment failed", zap.Uint("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrichment failed"})
			return
		}
		versions.Bump(c.Request.Context(), affected.PerResource())
		c.JSON(http.StatusOK, gin.H{"affected": affected.PerResource()})
	})

	rg.POST("/flags/recompute", func(c *gin.Context) {
		var req struct {
			BaseStudyIDs []uint `json:"base_study_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "base_study_ids required"})
			return
		}
		changed, err := flags.RecomputeMediaFlags(c.Request.Context(), nil, req.BaseStudyIDs)
		if err != nil {
			log.Error("Manual flag recompute failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recompute failed"})
			return
		}
		versions.Bump(c.Request.Context(), changed.PerResource())
		c.JSON(http.StatusOK, gin.H{"changed": changed.PerResource()})
	})
}
