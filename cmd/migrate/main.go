package main

import (
	"log"
	"os"

	"openrecords-be/internal/model"
	"openrecords-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Printf("Migrating %d tables...", len(model.All()))
	if err := model.Migrate(db); err != nil {
		log.Fatal("Error: ", err)
	}
	log.Println("Migration complete")
}
