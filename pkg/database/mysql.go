package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移表结构
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	log.Info("MySQL database connected successfully")
}

// OpenSQLite 打开一个 SQLite 数据库，供命令行工具和测试使用。
// listings 表通常由 listing 服务维护，这里一并创建以便本地运行。
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Listing{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 迁移本服务拥有的全部表。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.Template{},
		&model.Variable{},
		&model.GeneratedDocument{},
		&model.PipelineJob{},
		&model.ProcessingLog{},
	)
}
