package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/optiplay/backend/internal/config"
	"github.com/optiplay/backend/internal/database"
	"github.com/optiplay/backend/internal/models"
)

type seedUser struct {
	Username string
	Email    string
	Role     string
}

var seedUsers = []seedUser{
	{Username: "owner", Email: "owner@optiplay.local", Role: models.RoleOwner},
	{Username: "moderator", Email: "moderator@optiplay.local", Role: models.RoleModerator},
	{Username: "player", Email: "player@optiplay.local", Role: models.RoleUser},
}

func main() {
	password := flag.String("password", "changeme123", "password for every seeded account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Connect also migrates
	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	for _, su := range seedUsers {
		created, err := seed(db, su, *password)
		if err != nil {
			log.Printf("Failed to seed user %s: %v", su.Username, err)
			continue
		}
		if created {
			fmt.Printf("✓ Created %s account: %s\n", su.Role, su.Email)
		} else {
			fmt.Printf("  %s already exists\n", su.Email)
		}
	}

	post := models.Post{Title: "Welcome to OptiPlay", Body: "Read the community rules before posting."}
	var owner models.User
	if err := db.Where("email = ?", seedUsers[0].Email).First(&owner).Error; err == nil {
		post.AuthorID = owner.ID
		result := db.Where(models.Post{Title: post.Title}).FirstOrCreate(&post)
		if result.Error != nil {
			log.Printf("Failed to seed welcome post: %v", result.Error)
		} else if result.RowsAffected > 0 {
			fmt.Println("✓ Created welcome post")
		}
	}

	fmt.Println("\n✓ Database seeded successfully!")
}

func seed(db *gorm.DB, su seedUser, password string) (bool, error) {
	var existing models.User
	err := db.Where("email = ?", su.Email).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	user := models.User{Username: su.Username, Email: su.Email, Role: su.Role, Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return false, err
	}
	return true, db.Create(&user).Error
}
