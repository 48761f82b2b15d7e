package testutil

import (
	"fmt"
	"io"
	"log"
	"testing"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/domain/workflows"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func silentLogger() logger.Interface {
	return logger.New(
		log.New(io.Discard, "", log.LstdFlags),
		logger.Config{LogLevel: logger.Silent},
	)
}

// SetupMockDB returns a gorm handle over sqlmock using the postgres dialector.
func SetupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create sqlmock connection: %s", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: silentLogger()})
	if err != nil {
		t.Fatalf("open gorm over sqlmock: %s", err)
	}

	cleanup := func() {
		sqlDB.Close()
	}
	return gormDB, mock, cleanup
}

// SetupSQLiteDB returns an isolated in-memory database with every table migrated.
func SetupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: silentLogger()})
	if err != nil {
		t.Fatalf("open sqlite: %s", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %s", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&billing.Payment{}, &workflows.WorkflowRun{}, &workflows.WorkflowStep{}); err != nil {
		t.Fatalf("migrate sqlite: %s", err)
	}
	return db
}

// Logger returns a logrus entry that discards output.
func Logger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func SetupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
