package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Brownie44l1/dr-api/internal/config"
	"github.com/Brownie44l1/dr-api/internal/dataset"
	"github.com/Brownie44l1/dr-api/internal/metrics"
	"github.com/Brownie44l1/dr-api/internal/model"
	"github.com/Brownie44l1/dr-api/internal/retry"
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

	ctx := context.Background()
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Model.DownloadRetries
	client := &http.Client{Timeout: 10 * time.Minute}
	for _, f := range [][2]string{
		{cfg.Model.BackbonePath, cfg.Model.BackboneURL},
		{cfg.Model.Path, cfg.Model.URL},
	} {
		if err := model.EnsureFile(ctx, client, f[0], f[1], retryCfg); err != nil {
			log.Fatalf("Failed to fetch %s: %v", f[0], err)
		}
	}

	if err := model.InitRuntime(cfg.Model.OnnxRuntimeLib); err != nil {
		log.Fatalf("Failed to initialize ONNX Runtime: %v", err)
	}
	defer model.DestroyRuntime()

	classifier, err := model.LoadClassifier(cfg.Model.Path, cfg.Model.BackbonePath)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer classifier.Close()
	meta := classifier.Metadata()

	dir, err := dataset.ScanDirectory(cfg.Evaluation.TestDir)
	if err != nil {
		log.Fatalf("Failed to scan test data: %v", err)
	}
	if err := dir.Align(meta.ClassDirs); err != nil {
		log.Fatalf("Test classes do not match the model: %v", err)
	}
	feed := dataset.NewFeed(dir, dataset.FeedOptions{Prep: meta.Preprocessor()})
	log.Printf("Evaluating %d images", feed.Len())

	yTrue := make([]int, 0, feed.Len())
	yPred := make([]int, 0, feed.Len())
	for _, s := range feed.Samples {
		img, err := feed.Load(s)
		if err != nil {
			log.Fatalf("Failed to load %s: %v", s.Path, err)
		}
		pred, err := classifier.Predict(img)
		if err != nil {
			log.Fatalf("Failed to predict %s: %v", s.Path, err)
		}
		yTrue = append(yTrue, s.Label)
		yPred = append(yPred, pred.ClassIndex)
	}

	m, err := metrics.NewConfusionMatrix(meta.Classes, yTrue, yPred)
	if err != nil {
		log.Fatalf("Failed to build confusion matrix: %v", err)
	}

	fmt.Println("\nClassification Report:")
	fmt.Println(metrics.NewReport(m))
	fmt.Println("Confusion Matrix:")
	fmt.Println(m)

	if err := metrics.SaveHeatmap(m, cfg.Evaluation.HeatmapPath); err != nil {
		log.Fatalf("Failed to save heatmap: %v", err)
	}
	log.Printf("Confusion matrix heatmap saved to %s", cfg.Evaluation.HeatmapPath)
}
