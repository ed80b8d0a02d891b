// Command seed_admin creates or updates a back-office user so a fresh
// installation has someone who can dispatch QRs.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/uuid"
	"github.com/mesanova/entregas/internal/auth"
	"github.com/mesanova/entregas/internal/config"
	"github.com/mesanova/entregas/internal/database"
	"github.com/mesanova/entregas/internal/models"
	"github.com/mesanova/entregas/internal/store"
)

func main() {
	email := flag.String("email", "", "admin email")
	password := flag.String("password", "", "admin password")
	name := flag.String("name", "Administrador", "display name")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("Usage: seed_admin -email <email> -password <password>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(&models.UserAuth{}); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	}

	repo := store.NewGorm(db)
	ctx := context.Background()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user, err := repo.GetUserByEmail(ctx, *email)
	if err != nil {
		user = &models.UserAuth{
			ID:       uuid.NewString(),
			Username: *email,
			Email:    *email,
			Role:     "admin",
			IsActive: true,
		}
	}
	user.Name = *name
	user.Password = hash

	if err := repo.SaveUser(ctx, user); err != nil {
		log.Fatalf("Failed to save user: %v", err)
	}

	log.Printf("✅ Admin user ready: %s", *email)
}
