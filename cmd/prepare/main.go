package main

import (
	"context"
	"log"

	"github.com/Brownie44l1/dr-api/internal/config"
	"github.com/Brownie44l1/dr-api/internal/dataset"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cols := dataset.Columns{ID: cfg.Dataset.IDColumn, Grade: cfg.Dataset.GradeColumn}
	splits := []dataset.Split{
		splitFor("train", cfg.Dataset.Train, cols),
		splitFor("test", cfg.Dataset.Test, cols),
	}

	ctx := context.Background()
	for _, split := range splits {
		report, err := dataset.Organize(ctx, split)
		if err != nil {
			log.Fatalf("Failed to organize %s split: %v", split.Name, err)
		}
		log.Printf("%s: copied %d images, skipped %d missing", split.Name, report.Copied, report.Skipped)
	}
	log.Println("Dataset organized successfully")
}

func splitFor(name string, s config.SplitConfig, cols dataset.Columns) dataset.Split {
	return dataset.Split{
		Name:      name,
		Labels:    s.Labels,
		Images:    s.Images,
		Output:    s.Output,
		Extension: s.Extension,
		Columns:   cols,
	}
}
