package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"driver-service/auth"
	"driver-service/infra"
	"driver-service/model"
	"driver-service/repository"

	"go.mongodb.org/mongo-driver/bson"
)

func main() {
	configPath := flag.String("config", "", "設定檔路徑")
	adminID := flag.String("admin", "", "簽發管理員 token 的管理員ID（選填）")
	flag.Parse()

	// 讀取配置 - 自動尋找配置檔位置
	configPaths := []string{*configPath, "config.yml", "../config.yml", "../../config.yml"}
	var usedPath string
	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if err := infra.LoadConfig(path); err == nil {
			usedPath = path
			break
		}
	}
	if usedPath == "" {
		log.Fatalf("❌ 無法找到 config.yml 配置檔，已嘗試路徑: %v", configPaths)
	}
	fmt.Printf("✅ 找到配置檔: %s\n", usedPath)
	cfg := infra.AppConfig

	mongoDB, err := infra.NewMongoDB(infra.MongoConfig{
		URI:      cfg.MongoDB.URI,
		Database: cfg.MongoDB.Database,
	})
	if err != nil {
		log.Fatalf("❌ 連接 MongoDB 失敗: %v", err)
	}
	defer mongoDB.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Println("🚀 開始建立 MongoDB 索引...")
	if err := repository.NewDriverRepository(mongoDB).EnsureIndexes(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Println("✅ drivers 集合索引建立完成")

	if err := repository.NewDailyStatsRepository(mongoDB).EnsureIndexes(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Println("✅ driver_daily_stats 集合索引建立完成")

	printIndexInfo(ctx, mongoDB, repository.DriversCollection, repository.DailyStatsCollection)

	if *adminID != "" {
		ttl := time.Duration(cfg.JWT.ExpiresHours) * time.Hour
		token, err := auth.IssueToken(cfg.JWT.SecretKey, model.TokenTypeAdmin, *adminID, ttl)
		if err != nil {
			log.Fatalf("❌ 簽發管理員 token 失敗: %v", err)
		}
		fmt.Printf("🔑 管理員 token（%s 有效）:\n%s\n", ttl, token)
	}
}

// printIndexInfo 顯示各集合的索引資訊
func printIndexInfo(ctx context.Context, mongoDB *infra.MongoDB, collections ...string) {
	fmt.Println("\n📊 索引建立報告:")
	fmt.Println(strings.Repeat("=", 60))

	for _, collName := range collections {
		cursor, err := mongoDB.GetCollection(collName).Indexes().List(ctx)
		if err != nil {
			fmt.Printf("⚠️  讀取 %s 索引失敗: %v\n", collName, err)
			continue
		}

		var indexes []bson.M
		if err := cursor.All(ctx, &indexes); err != nil {
			continue
		}

		fmt.Printf("📁 %s: %d 個索引\n", collName, len(indexes))
		for i, index := range indexes {
			name, _ := index["name"].(string)
			unique := ""
			if u, ok := index["unique"].(bool); ok && u {
				unique = " [UNIQUE]"
			}
			fmt.Printf("   %d. %s%s\n", i+1, name, unique)
			fmt.Printf("      └─ %v\n", index["key"])
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("=", 60))
}
