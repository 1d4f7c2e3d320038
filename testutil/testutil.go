// Package testutil stellt die Postgres- und Redis-Testumgebung bereit.
// Integrationstests laufen nur, wenn TEST_POSTGRES_DSN bzw. TEST_REDIS_ADDR
// gesetzt ist; ohne Backend werden sie übersprungen.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"neurostore/models"
)

// DB öffnet die Test-Datenbank und migriert das Schema. Ohne
// TEST_POSTGRES_DSN wird der Test übersprungen.
func DB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN nicht gesetzt, Integrationstest übersprungen")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Test-DB-Verbindung fehlgeschlagen: %v", err)
	}

	if err := db.AutoMigrate(
		&models.BaseStudy{}, &models.Study{}, &models.Analysis{},
		&models.Point{}, &models.Image{},
		&models.Studyset{}, &models.StudysetStudy{},
		&models.Annotation{}, &models.AnnotationAnalysis{},
		&models.PipelineStudyResult{}, &models.PipelineEmbedding{},
		&models.BaseStudyFlagOutbox{}, &models.BaseStudyMetadataOutbox{},
	); err != nil {
		t.Fatalf("Test-DB-Migration fehlgeschlagen: %v", err)
	}

	return db
}

// Tx gibt eine Transaktion zurück, die beim Testende zurückgerollt wird.
// Damit bleiben Tests gegen eine geteilte Datenbank isoliert.
func Tx(t *testing.T, db *gorm.DB) *gorm.DB {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("Begin fehlgeschlagen: %v", tx.Error)
	}
	t.Cleanup(func() {
		tx.Rollback()
	})
	return tx
}

// Redis öffnet den Test-Redis. Ohne TEST_REDIS_ADDR wird der Test
// übersprungen; der Client wird beim Testende geschlossen.
func Redis(t *testing.T) *goredis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR nicht gesetzt, Integrationstest übersprungen")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("Test-Redis nicht erreichbar: %v", err)
	}
	t.Cleanup(func() {
		rdb.Close()
	})
	return rdb
}

// Logger liefert einen an das Testlog gebundenen zap-Logger.
func Logger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}
